package proceso

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// HostFS expone un directorio del host como sistema de archivos de los procesos
type HostFS struct {
	raiz string
}

// NuevoHostFS usa raiz como "/" de los procesos
func NuevoHostFS(raiz string) (*HostFS, error) {
	info, err := os.Stat(raiz)
	if err != nil {
		return nil, fmt.Errorf("raíz de hostfs %s: %w", raiz, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("raíz de hostfs %s: %w", raiz, ErrNoEsDirectorio)
	}
	return &HostFS{raiz: raiz}, nil
}

// enHost traduce una ruta de proceso a una ruta del host que no escapa de la raíz
func (h *HostFS) enHost(ruta string) string {
	return filepath.Join(h.raiz, filepath.FromSlash(path.Clean("/"+ruta)))
}

func (h *HostFS) Abrir(ruta string, modo int) (Archivo, error) {
	flags := os.O_RDONLY
	switch modo & 0x3 {
	case ModoEscritura:
		flags = os.O_WRONLY
	case ModoLecturaEscritura:
		flags = os.O_RDWR
	}
	if modo&ModoCrear != 0 {
		flags |= os.O_CREATE
	}
	return os.OpenFile(h.enHost(ruta), flags, 0644)
}

func (h *HostFS) AbrirDir(ruta string) (Directorio, error) {
	entradas, err := os.ReadDir(h.enHost(ruta))
	if err != nil {
		return nil, err
	}
	return &dirHost{entradas: entradas}, nil
}

func (h *HostFS) CrearDir(ruta string) error {
	return os.Mkdir(h.enHost(ruta), 0755)
}

func (h *HostFS) Enlazar(existente, nuevo string) error {
	return os.Link(h.enHost(existente), h.enHost(nuevo))
}

func (h *HostFS) Desenlazar(ruta string) error {
	return os.Remove(h.enHost(ruta))
}

func (h *HostFS) EsDirectorio(ruta string) bool {
	info, err := os.Stat(h.enHost(ruta))
	return err == nil && info.IsDir()
}

type dirHost struct {
	entradas []os.DirEntry
	pos      int
}

func (d *dirHost) Leer() (EntradaDirectorio, error) {
	if d.pos >= len(d.entradas) {
		return EntradaDirectorio{}, io.EOF
	}
	e := d.entradas[d.pos]
	d.pos++
	return EntradaDirectorio{Nombre: e.Name(), Inodo: d.pos, EsDir: e.IsDir()}, nil
}

func (d *dirHost) Close() error {
	return nil
}
