// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package compiler

import "strings"

const hostPrefix = "gpuhal-host:"

// HostCode returns the TargetHost code for a module. Host modules carry no
// code, only the module name under which kernels are registered with the
// host stream driver.
func HostCode(module string) []byte {
	return []byte(hostPrefix + module)
}

// ParseHostCode returns the module name encoded by HostCode.
func ParseHostCode(code []byte) (string, bool) {
	s := string(code)
	if !strings.HasPrefix(s, hostPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(s, hostPrefix)
	return name, name != ""
}
