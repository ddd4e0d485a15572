package wire

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"

	"github.com/chazu/smalt/vm"
)

var log = commonlog.GetLogger("smalt.wire")

// ErrVersionMismatch reports an artifact compiled for another bytecode
// version.
var ErrVersionMismatch = errors.New("wire: bytecode version mismatch")

// encMode produces canonical CBOR so equal artifacts encode to equal bytes.
var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// header is decoded first so a version mismatch is reported even when the
// rest of the layout has changed.
type header struct {
	Version int `cbor:"1,keyasint"`
}

// Marshal encodes a to canonical CBOR. A zero version is filled in with the
// runtime's bytecode version.
func Marshal(a *Artifact) ([]byte, error) {
	if a.Version == 0 {
		a.Version = vm.BytecodeVersion
	}
	data, err := encMode.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal artifact: %w", err)
	}
	return data, nil
}

// Unmarshal decodes an artifact and rejects any version other than
// vm.BytecodeVersion with ErrVersionMismatch.
func Unmarshal(data []byte) (*Artifact, error) {
	var h header
	if err := cbor.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("wire: unmarshal artifact: %w", err)
	}
	if h.Version != vm.BytecodeVersion {
		return nil, fmt.Errorf("%w: artifact version %d, runtime %d", ErrVersionMismatch, h.Version, vm.BytecodeVersion)
	}
	var a Artifact
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("wire: unmarshal artifact: %w", err)
	}
	return &a, nil
}

// ReadFile loads an artifact from path.
func ReadFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("read %s: %d classes, %d methods", path, len(a.Classes), len(a.Methods))
	return a, nil
}

// WriteFile encodes a and writes it to path.
func WriteFile(path string, a *Artifact) error {
	data, err := Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
