// Package asm holds the assembly routine that enters generated code. It is
// kept apart from dynarec so that package stays free of assembly.
package asm
