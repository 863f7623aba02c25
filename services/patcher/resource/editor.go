// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resource

import (
	"github.com/beevik/etree"
)

// Editor is one open editing session on an XML document.
//
// Description:
//
//	The document tree is private to the session. Changes reach storage
//	only when the last session on the same path closes. Close is
//	idempotent.
//
// Thread Safety:
//
//	An Editor is NOT safe for concurrent use.
type Editor struct {
	registry *SessionRegistry

	// path is set for path sessions; name and sink for stream sessions.
	path string
	name string
	sink Sink

	// generation is the registry generation the session was opened in.
	generation uint64

	doc      *etree.Document
	original []byte
	closed   bool
}

// Document returns the editable document tree.
func (e *Editor) Document() *etree.Document {
	return e.doc
}

// Root returns the document's root element.
func (e *Editor) Root() *etree.Element {
	return e.doc.Root()
}

// Path returns the absolute document path, or "" for stream sessions.
func (e *Editor) Path() string {
	return e.path
}

// Closed reports whether Close has been called.
func (e *Editor) Closed() bool {
	return e.closed
}

// Close ends the session.
//
// Description:
//
//	For a path session, the document is written only if no other session
//	on the path is still open. For a stream session, the document is
//	written to the sink if one was supplied. A second Close does nothing.
func (e *Editor) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if e.path != "" {
		return e.registry.close(e)
	}
	if e.sink != nil {
		return e.registry.commitStream(e)
	}
	return nil
}
