package relay

import (
	"context"

	"github.com/balticlsc/balticlsc-module/pkg/access"
	"github.com/balticlsc/balticlsc-module/pkg/access/ftp"
	"github.com/balticlsc/balticlsc-module/pkg/access/sshconn"
	"github.com/balticlsc/balticlsc-module/pkg/pin"
)

// FTP opens pins with access type "ftp".
func FTP(c access.Connector[ftp.Credential, *ftp.Conn]) Opener {
	return func(ctx context.Context, p *pin.Pin) (Store, error) {
		cred, err := ftp.ParseCredential(p.AccessCredential)
		if err != nil {
			return nil, err
		}
		conn, err := c.Acquire(ctx, cred)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// SSH opens pins with access type "ssh".
func SSH(c access.Connector[sshconn.Credential, *sshconn.Conn]) Opener {
	return func(ctx context.Context, p *pin.Pin) (Store, error) {
		cred, err := sshconn.ParseCredential(p.AccessCredential)
		if err != nil {
			return nil, err
		}
		conn, err := c.Acquire(ctx, cred)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
