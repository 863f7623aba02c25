// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
)

const (
	containerMagic   = "APCX"
	containerVersion = 1
)

// Opcodes describes the instruction set a container was compiled for.
// It is carried through a read/write cycle unchanged.
type Opcodes struct {
	APILevel int `cbor:"api"`
}

// BytecodeCodec converts between a class container and class records.
type BytecodeCodec interface {
	ReadContainer(data []byte) ([]*classes.ClassRecord, Opcodes, error)
	WriteContainer(records []*classes.ClassRecord, opcodes Opcodes) ([]byte, error)
}

type container struct {
	Magic   string                 `cbor:"magic"`
	Version int                    `cbor:"version"`
	Opcodes Opcodes                `cbor:"opcodes"`
	Classes []*classes.ClassRecord `cbor:"classes"`
}

// CBORCodec stores classes as a canonical CBOR container.
type CBORCodec struct {
	enc cbor.EncMode
}

// NewCBORCodec creates a codec with canonical encoding, so equal records
// always encode to equal bytes.
func NewCBORCodec() (*CBORCodec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("codec: create CBOR enc mode: %w", err)
	}
	return &CBORCodec{enc: em}, nil
}

// ReadContainer decodes a container.
//
// Outputs:
//
//	[]*classes.ClassRecord - Records in container order.
//	Opcodes - The container's instruction set descriptor.
//	error - ErrBadMagic, ErrUnsupportedVersion, or a decode error.
func (c *CBORCodec) ReadContainer(data []byte) ([]*classes.ClassRecord, Opcodes, error) {
	var ct container
	if err := cbor.Unmarshal(data, &ct); err != nil {
		return nil, Opcodes{}, fmt.Errorf("codec: unmarshal container: %w", err)
	}
	if ct.Magic != containerMagic {
		return nil, Opcodes{}, fmt.Errorf("%w: magic %q", ErrBadMagic, ct.Magic)
	}
	if ct.Version != containerVersion {
		return nil, Opcodes{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, ct.Version)
	}
	return ct.Classes, ct.Opcodes, nil
}

// WriteContainer encodes records in the given order.
func (c *CBORCodec) WriteContainer(records []*classes.ClassRecord, opcodes Opcodes) ([]byte, error) {
	data, err := c.enc.Marshal(container{
		Magic:   containerMagic,
		Version: containerVersion,
		Opcodes: opcodes,
		Classes: records,
	})
	if err != nil {
		return nil, fmt.Errorf("codec: marshal container: %w", err)
	}
	return data, nil
}
