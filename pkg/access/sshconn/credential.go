package sshconn

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"

	"github.com/balticlsc/balticlsc-module/internal/keys"
)

const DefaultPort = 22

var validate = validator.New()

// Credential identifies an SSH account. Either Password or KeyPath must be
// set; when both are, the key is tried first.
type Credential struct {
	Host     string `validate:"required"`
	Port     int    `validate:"gte=1,lte=65535"`
	User     string `validate:"required"`
	Password string `validate:"required_without=KeyPath"`
	KeyPath  string
}

func (c Credential) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Credential) String() string {
	return fmt.Sprintf("ssh://%s@%s", c.User, c.Address())
}

// ParseCredential reads a pin access credential with the keys host, port,
// user (or username/login), password and key_path.
func ParseCredential(m map[string]any) (Credential, error) {
	if len(m) == 0 {
		return Credential{}, errors.New("ssh: empty access credential")
	}
	m = keys.SnakeMap(m)
	c := Credential{
		Host:     str(m, "host", "hostname"),
		User:     str(m, "user", "username", "login"),
		Password: str(m, "password"),
		KeyPath:  str(m, "key_path", "private_key_path", "identity_file"),
	}
	switch p := m["port"].(type) {
	case nil:
	case float64:
		c.Port = int(p)
	case int:
		c.Port = p
	case string:
		n, err := strconv.Atoi(p)
		if err != nil {
			return Credential{}, fmt.Errorf("ssh: invalid port %q", p)
		}
		c.Port = n
	default:
		return Credential{}, fmt.Errorf("ssh: invalid port %v", p)
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if err := validate.Struct(c); err != nil {
		return Credential{}, fmt.Errorf("ssh: invalid access credential: %w", err)
	}
	return c, nil
}

func (c Credential) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if c.KeyPath != "" {
		key, err := os.ReadFile(c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	return methods, nil
}

func str(m map[string]any, names ...string) string {
	for _, n := range names {
		if s, ok := m[n].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
