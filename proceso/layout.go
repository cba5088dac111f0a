package proceso

import "github.com/LucasIBorrat/nucleo-pke/memoria"

// Mapa del espacio de direcciones de usuario
const (
	BaseCodigo      uint64 = 0x00010000
	HeapBase        uint64 = 0x00400000
	TopePilaUsuario uint64 = 0x7ffff000
	BasePilaUsuario        = TopePilaUsuario - memoria.TamPagina
)

// SatpNucleo es el satp que el trap restaura al entrar al núcleo: modo Bare, el núcleo
// trabaja sobre direcciones físicas y no tiene tabla de páginas propia
const SatpNucleo uint64 = 0

// Índices de registros RISC-V en el trapframe
const (
	RegRA = 1
	RegSP = 2
	RegGP = 3
	RegTP = 4
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)
