// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fusesim

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/fusectl/pkg/efuse"
	"github.com/fxamacker/cbor/v2"
)

// image is the persisted array state. Weak cells, injected faults and the
// environment are test conditions and are not saved.
type image struct {
	Variant uint8         `cbor:"1,keyasint"`
	IDCode  uint32        `cbor:"2,keyasint"`
	Rows    [][][2]uint32 `cbor:"3,keyasint"`
}

// Save writes the burned state as CBOR
func (a *Array) Save(w io.Writer) error {
	a.mu.Lock()
	img := image{Variant: uint8(a.geo.Variant), IDCode: a.idcode, Rows: a.cells}
	data, err := cbor.Marshal(img)
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Load reads an array saved with Save
func Load(r io.Reader) (*Array, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var img image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	a, err := New(efuse.Variant(img.Variant))
	if err != nil {
		return nil, err
	}
	if len(img.Rows) != len(a.cells) {
		return nil, fmt.Errorf("image has %d pages, %s has %d", len(img.Rows), a.geo.Variant, len(a.cells))
	}
	for p := range img.Rows {
		if len(img.Rows[p]) != len(a.cells[p]) {
			return nil, fmt.Errorf("image page %d has %d rows, want %d", p, len(img.Rows[p]), len(a.cells[p]))
		}
	}
	a.cells = img.Rows
	a.idcode = img.IDCode
	return a, nil
}

// SaveFile writes the image to path
func (a *Array) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := a.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads an image from path. A missing file yields a blank array
// of variant v.
func LoadFile(path string, v efuse.Variant) (*Array, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(v)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
