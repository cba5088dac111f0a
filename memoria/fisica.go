package memoria

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/LucasIBorrat/nucleo-pke/utils"
)

const (
	TamPagina                   = 4096
	DesplazamientoPagina        = 12
	BaseDRAM             uint64 = 0x80000000
)

// RedondearAbajo alinea una dirección al inicio de su página
func RedondearAbajo(dir uint64) uint64 {
	return dir &^ (TamPagina - 1)
}

// RedondearArriba alinea una dirección al inicio de la página siguiente (si no está alineada)
func RedondearArriba(dir uint64) uint64 {
	return (dir + TamPagina - 1) &^ (TamPagina - 1)
}

// Estadisticas resume el uso de marcos
type Estadisticas struct {
	Total       int `json:"total"`
	Libres      int `json:"libres"`
	Usados      int `json:"usados"`
	Compartidos int `json:"compartidos"`
}

// Fisica es la memoria física simulada, dividida en marcos con contador de referencias
type Fisica struct {
	datosMu sync.RWMutex
	datos   []byte

	mu     sync.Mutex
	refs   []int32
	libres []int

	metricas *Metricas
}

// NuevaFisica crea una memoria física de tam bytes a partir de BaseDRAM
func NuevaFisica(tam int) *Fisica {
	cantidad := tam / TamPagina
	f := &Fisica{
		datos:    make([]byte, cantidad*TamPagina),
		refs:     make([]int32, cantidad),
		libres:   make([]int, 0, cantidad),
		metricas: &Metricas{},
	}

	// Se asignan de menor a mayor dirección
	for i := cantidad - 1; i >= 0; i-- {
		f.libres = append(f.libres, i)
	}

	utils.InfoLog.Info("Memoria física inicializada", "marcos", cantidad, "base", fmt.Sprintf("%#x", BaseDRAM))
	return f
}

func (f *Fisica) marco(pa uint64) int {
	if pa < BaseDRAM || pa >= BaseDRAM+uint64(len(f.datos)) {
		panic(fmt.Sprintf("dirección física fuera de la memoria: %#x", pa))
	}
	return int((pa - BaseDRAM) / TamPagina)
}

// Contiene indica si pa cae dentro de la memoria simulada
func (f *Fisica) Contiene(pa uint64) bool {
	return pa >= BaseDRAM && pa < BaseDRAM+uint64(len(f.datos))
}

// AsignarMarco devuelve un marco en cero con una referencia
func (f *Fisica) AsignarMarco() (uint64, error) {
	f.mu.Lock()
	if len(f.libres) == 0 {
		f.mu.Unlock()
		utils.ErrorLog.Error("No hay marcos libres disponibles")
		return 0, ErrSinMarcos
	}
	n := f.libres[len(f.libres)-1]
	f.libres = f.libres[:len(f.libres)-1]
	f.refs[n] = 1
	f.mu.Unlock()

	pa := BaseDRAM + uint64(n)*TamPagina
	f.datosMu.Lock()
	clear(f.datos[n*TamPagina : (n+1)*TamPagina])
	f.datosMu.Unlock()

	f.metricas.MarcosAsignados.Add(1)
	utils.InfoLog.Debug("Marco asignado", "pa", fmt.Sprintf("%#x", pa))
	return pa, nil
}

// Retener suma una referencia a un marco compartido
func (f *Fisica) Retener(pa uint64) {
	n := f.marco(pa)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[n] <= 0 {
		panic(fmt.Sprintf("retener marco libre %#x", pa))
	}
	f.refs[n]++
}

// LiberarMarco quita una referencia; el marco vuelve al pool cuando llega a cero.
// Devuelve true si el marco quedó libre.
func (f *Fisica) LiberarMarco(pa uint64) bool {
	n := f.marco(pa)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[n] <= 0 {
		panic(fmt.Sprintf("liberar marco libre %#x", pa))
	}
	f.refs[n]--
	if f.refs[n] > 0 {
		return false
	}
	f.libres = append(f.libres, n)
	f.metricas.MarcosLiberados.Add(1)
	utils.InfoLog.Debug("Marco liberado", "pa", fmt.Sprintf("%#x", pa))
	return true
}

// Referencias devuelve cuántos dueños tiene el marco
func (f *Fisica) Referencias(pa uint64) int {
	n := f.marco(pa)
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.refs[n])
}

// Leer copia bytes desde memoria física
func (f *Fisica) Leer(pa uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if !f.Contiene(pa) || !f.Contiene(pa+uint64(len(buf))-1) {
		return fmt.Errorf("leer %d bytes en %#x: %w", len(buf), pa, ErrMarcoInvalido)
	}
	off := pa - BaseDRAM
	f.datosMu.RLock()
	copy(buf, f.datos[off:off+uint64(len(buf))])
	f.datosMu.RUnlock()
	return nil
}

// Escribir copia bytes a memoria física
func (f *Fisica) Escribir(pa uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if !f.Contiene(pa) || !f.Contiene(pa+uint64(len(buf))-1) {
		return fmt.Errorf("escribir %d bytes en %#x: %w", len(buf), pa, ErrMarcoInvalido)
	}
	off := pa - BaseDRAM
	f.datosMu.Lock()
	copy(f.datos[off:off+uint64(len(buf))], buf)
	f.datosMu.Unlock()
	return nil
}

// LeerPalabra lee un uint64 little-endian
func (f *Fisica) LeerPalabra(pa uint64) uint64 {
	var b [8]byte
	if err := f.Leer(pa, b[:]); err != nil {
		panic(err)
	}
	return binary.LittleEndian.Uint64(b[:])
}

// EscribirPalabra escribe un uint64 little-endian
func (f *Fisica) EscribirPalabra(pa uint64, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	if err := f.Escribir(pa, b[:]); err != nil {
		panic(err)
	}
}

// CopiarMarco copia una página completa
func (f *Fisica) CopiarMarco(destino, origen uint64) {
	d := f.marco(destino) * TamPagina
	o := f.marco(origen) * TamPagina
	f.datosMu.Lock()
	copy(f.datos[d:d+TamPagina], f.datos[o:o+TamPagina])
	f.datosMu.Unlock()
}

// Estadisticas cuenta marcos libres, usados y compartidos
func (f *Fisica) Estadisticas() Estadisticas {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := Estadisticas{Total: len(f.refs), Libres: len(f.libres)}
	for _, r := range f.refs {
		if r > 0 {
			e.Usados++
		}
		if r > 1 {
			e.Compartidos++
		}
	}
	return e
}

// Metricas devuelve los contadores de la memoria
func (f *Fisica) Metricas() *Metricas {
	return f.metricas
}

func (f *Fisica) referenciasPorMarco() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.refs...)
}
