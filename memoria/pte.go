package memoria

import "fmt"

// PTE es una entrada de tabla de páginas Sv39
type PTE uint64

const (
	PTE_V PTE = 1 << 0
	PTE_R PTE = 1 << 1
	PTE_W PTE = 1 << 2
	PTE_X PTE = 1 << 3
	PTE_U PTE = 1 << 4
	PTE_G PTE = 1 << 5
	PTE_A PTE = 1 << 6
	PTE_D PTE = 1 << 7
	// Bit de software (RSW) que marca una página copy-on-write
	PTE_COW PTE = 1 << 8

	mascaraPermisos PTE = 0x3FF
)

// PTEDesdeFisica arma una entrada válida hacia pa con los permisos dados
func PTEDesdeFisica(pa uint64, perm PTE) PTE {
	return PTE((pa>>12)<<10) | (perm & mascaraPermisos) | PTE_V
}

// Fisica devuelve la dirección física a la que apunta la entrada
func (p PTE) Fisica() uint64 {
	return (uint64(p) >> 10) << 12
}

func (p PTE) Valida() bool {
	return p&PTE_V != 0
}

// Hoja indica si la entrada apunta a una página y no a otro directorio
func (p PTE) Hoja() bool {
	return p&(PTE_R|PTE_W|PTE_X) != 0
}

// Tiene indica si están todos los bits de perm
func (p PTE) Tiene(perm PTE) bool {
	return p&perm == perm
}

func (p PTE) Permisos() PTE {
	return p & mascaraPermisos
}

// ConPermisos reemplaza los bits de permiso conservando el marco
func (p PTE) ConPermisos(perm PTE) PTE {
	return (p &^ mascaraPermisos) | (perm & mascaraPermisos)
}

func (p PTE) String() string {
	bits := []byte("--------")
	for i, b := range []struct {
		bit PTE
		c   byte
	}{{PTE_V, 'v'}, {PTE_R, 'r'}, {PTE_W, 'w'}, {PTE_X, 'x'}, {PTE_U, 'u'}, {PTE_A, 'a'}, {PTE_D, 'd'}, {PTE_COW, 'c'}} {
		if p&b.bit != 0 {
			bits[i] = b.c
		}
	}
	return fmt.Sprintf("%#x[%s]", p.Fisica(), bits)
}
