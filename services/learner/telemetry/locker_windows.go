// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build windows

package telemetry

import (
	"os"
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock   = 0x00000002
	lockfileFailImmediately = 0x00000001
	errLockViolation        = 33
)

// WindowsFileLocker implements FileLocker using LockFileEx.
//
// # Thread Safety
//
// Safe for concurrent use on different files.
type WindowsFileLocker struct{}

// Lock acquires an exclusive lock using LockFileEx.
func (l *WindowsFileLocker) Lock(f *os.File) error {
	var overlapped syscall.Overlapped
	r, _, err := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileExclusiveLock|lockfileFailImmediately),
		0, 1, 0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r == 0 {
		if errno, ok := err.(syscall.Errno); ok && errno == errLockViolation {
			return ErrFileLocked
		}
		return err
	}
	return nil
}

// Unlock releases the lock using UnlockFileEx.
func (l *WindowsFileLocker) Unlock(f *os.File) error {
	var overlapped syscall.Overlapped
	r, _, err := procUnlockFileEx.Call(
		f.Fd(),
		0, 1, 0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r == 0 {
		return err
	}
	return nil
}

func newPlatformLocker() FileLocker {
	return &WindowsFileLocker{}
}

// fileInode is unavailable on Windows; rotation detection falls back to
// treating every file as inode 0 (offset reset only on truncation).
func fileInode(info os.FileInfo) uint64 {
	return 0
}
