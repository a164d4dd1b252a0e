//go:build amd64

package asm

// CallBlock calls generated code at entry with state in RDI and returns
// what the code leaves in RAX.
func CallBlock(entry uintptr, state uintptr) uint64
