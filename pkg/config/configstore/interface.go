// Package configstore defines where the pin configuration document lives.
package configstore

// ConfigStore loads one configuration document. The module only reads its
// pins; the document is written by whoever deploys it.
type ConfigStore interface {
	Load(out any) error
}
