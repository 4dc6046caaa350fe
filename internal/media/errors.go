//////////////////////////////////////////////////////////////////////////////
//
// Media errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "errors"

var (
	// ErrGeometryLocked is returned when a frame with locked geometry is
	// asked to take a different size or pixel format.
	ErrGeometryLocked = errors.New("Geometry locked")

	// ErrUnknownPixelFormat is returned by ParsePixelFormat.
	ErrUnknownPixelFormat = errors.New("Unknown pixel format")

	errNotSupported = errors.New("Not supported")
)
