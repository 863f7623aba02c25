// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pkgctx

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
)

var (
	// ErrMethodNotFound is returned when navigation cannot find a method.
	ErrMethodNotFound = errors.New("method not found")

	// ErrNotInvoke is returned when navigating through a non-invoke instruction.
	ErrNotInvoke = errors.New("instruction is not a method invocation")
)

// BytecodeContext is the view bytecode patches receive.
type BytecodeContext struct {
	info PackageInfo
	set  *classes.ClassSet
}

func (b *BytecodeContext) Kind() Kind           { return KindBytecode }
func (b *BytecodeContext) Package() PackageInfo { return b.info }

// Classes returns the live class set.
func (b *BytecodeContext) Classes() *classes.ClassSet {
	return b.set
}

// Proxy returns the unique proxy for record's class.
func (b *BytecodeContext) Proxy(record *classes.ClassRecord) (*classes.Proxy, error) {
	return b.set.Proxy(record)
}

// FindClass returns the proxy for the class with the given type.
func (b *BytecodeContext) FindClass(classType string) (*classes.Proxy, bool) {
	return b.set.FindByType(classType)
}

// Navigate starts a walk at the first method named method in classType.
//
// Example:
//
//	m, err := ctx.Navigate("Lcom/app/Main;", "onCreate").At(4, 2).Mutable()
func (b *BytecodeContext) Navigate(classType, method string) *MethodNavigator {
	nav := &MethodNavigator{set: b.set}
	p, ok := b.set.FindByType(classType)
	if !ok {
		nav.err = &classes.ClassError{Type: classType, Err: classes.ErrClassNotFound}
		return nav
	}
	_, idx := p.Current().Method(method)
	if idx < 0 {
		nav.err = fmt.Errorf("%w: %s->%s", ErrMethodNotFound, classType, method)
		return nav
	}
	nav.proxy, nav.index = p, idx
	return nav
}

// MethodNavigator walks from a method to the methods it invokes.
//
// Description:
//
//	Errors are sticky: once a step fails every later step is a no-op and
//	the terminal call returns the first error.
type MethodNavigator struct {
	set   *classes.ClassSet
	proxy *classes.Proxy
	index int
	err   error
}

// At follows the invoke instruction at each index in turn.
func (n *MethodNavigator) At(indices ...int) *MethodNavigator {
	for _, i := range indices {
		if n.err != nil {
			return n
		}
		n.step(i)
	}
	return n
}

func (n *MethodNavigator) step(i int) {
	m := n.proxy.Current().Methods[n.index]
	if i < 0 || i >= len(m.Instructions) {
		n.err = fmt.Errorf("%s: %w: %d", m.Reference(), classes.ErrIndexOutOfRange, i)
		return
	}
	ref, ok := m.Instructions[i].MethodReference()
	if !ok {
		n.err = fmt.Errorf("%s[%d] %q: %w", m.Reference(), i, m.Instructions[i].Opcode, ErrNotInvoke)
		return
	}
	p, ok := n.set.FindByType(ref.DefiningClass)
	if !ok {
		n.err = &classes.ClassError{Type: ref.DefiningClass, Err: classes.ErrClassNotFound}
		return
	}
	_, idx := p.Current().MethodBySignature(ref.Signature())
	if idx < 0 {
		n.err = fmt.Errorf("%w: %s->%s", ErrMethodNotFound, ref.DefiningClass, ref.Signature())
		return
	}
	n.proxy, n.index = p, idx
}

// Original returns the reached method without resolving its class proxy.
// The returned method must not be modified.
func (n *MethodNavigator) Original() (*classes.Method, error) {
	if n.err != nil {
		return nil, n.err
	}
	return n.proxy.Current().Methods[n.index], nil
}

// Mutable resolves the reached class's proxy and returns the method in
// the mutable copy.
func (n *MethodNavigator) Mutable() (*classes.Method, error) {
	if n.err != nil {
		return nil, n.err
	}
	return n.proxy.Mutable().Methods[n.index], nil
}
