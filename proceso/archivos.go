package proceso

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
)

const MaxArchivos = 16

// Modos de apertura
const (
	ModoLectura          = 0x0
	ModoEscritura        = 0x1
	ModoLecturaEscritura = 0x2
	ModoCrear            = 0x40
)

var (
	ErrDescriptorInvalido = errors.New("descriptor de archivo inválido")
	ErrSinDescriptores    = errors.New("tabla de archivos llena")
	ErrNoEsDirectorio     = errors.New("no es un directorio")
)

// Archivo es un archivo abierto en el sistema de archivos
type Archivo interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// EntradaDirectorio es un elemento devuelto al leer un directorio
type EntradaDirectorio struct {
	Nombre string `json:"nombre"`
	Inodo  int    `json:"inodo"`
	EsDir  bool   `json:"es_dir"`
}

// Directorio es un directorio abierto; Leer devuelve io.EOF al terminar
type Directorio interface {
	Leer() (EntradaDirectorio, error)
	io.Closer
}

// SistemaArchivos es la capa VFS que usa la tabla de archivos de un proceso
type SistemaArchivos interface {
	Abrir(ruta string, modo int) (Archivo, error)
	AbrirDir(ruta string) (Directorio, error)
	CrearDir(ruta string) error
	Enlazar(existente, nuevo string) error
	Desenlazar(ruta string) error
	EsDirectorio(ruta string) bool
}

// abierto es un archivo o directorio compartido entre descriptores tras un fork
type abierto struct {
	mu   sync.Mutex
	ruta string
	arch Archivo
	dir  Directorio
	refs int
}

func (a *abierto) retener() {
	a.mu.Lock()
	a.refs++
	a.mu.Unlock()
}

func (a *abierto) soltar() error {
	a.mu.Lock()
	a.refs--
	ultimo := a.refs == 0
	a.mu.Unlock()

	if !ultimo {
		return nil
	}
	if a.arch != nil {
		return a.arch.Close()
	}
	return a.dir.Close()
}

// Archivos es la tabla de descriptores de un proceso
type Archivos struct {
	mu  sync.Mutex
	sfs SistemaArchivos
	fds [MaxArchivos]*abierto
	cwd string
}

// NuevosArchivos crea una tabla vacía con directorio actual "/"
func NuevosArchivos(sfs SistemaArchivos) *Archivos {
	return &Archivos{sfs: sfs, cwd: "/"}
}

// Resolver convierte una ruta relativa al directorio actual en absoluta
func (a *Archivos) Resolver(ruta string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolver(ruta)
}

func (a *Archivos) resolver(ruta string) string {
	if path.IsAbs(ruta) {
		return path.Clean(ruta)
	}
	return path.Join(a.cwd, ruta)
}

func (a *Archivos) instalar(ab *abierto) (int, error) {
	for fd, actual := range a.fds {
		if actual == nil {
			a.fds[fd] = ab
			return fd, nil
		}
	}
	return -1, ErrSinDescriptores
}

func (a *Archivos) obtener(fd int) (*abierto, error) {
	if fd < 0 || fd >= MaxArchivos || a.fds[fd] == nil {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrDescriptorInvalido)
	}
	return a.fds[fd], nil
}

// Abrir abre un archivo y devuelve su descriptor
func (a *Archivos) Abrir(ruta string, modo int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sfs == nil {
		return -1, ErrDescriptorInvalido
	}

	absoluta := a.resolver(ruta)
	arch, err := a.sfs.Abrir(absoluta, modo)
	if err != nil {
		return -1, err
	}
	fd, err := a.instalar(&abierto{ruta: absoluta, arch: arch, refs: 1})
	if err != nil {
		arch.Close()
		return -1, err
	}
	return fd, nil
}

func (a *Archivos) archivo(fd int) (Archivo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ab, err := a.obtener(fd)
	if err != nil {
		return nil, err
	}
	if ab.arch == nil {
		return nil, fmt.Errorf("fd %d es un directorio: %w", fd, ErrDescriptorInvalido)
	}
	return ab.arch, nil
}

func (a *Archivos) Leer(fd int, buf []byte) (int, error) {
	arch, err := a.archivo(fd)
	if err != nil {
		return -1, err
	}
	n, err := arch.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func (a *Archivos) Escribir(fd int, buf []byte) (int, error) {
	arch, err := a.archivo(fd)
	if err != nil {
		return -1, err
	}
	return arch.Write(buf)
}

// Mover cambia el offset del archivo (whence como io.Seek*)
func (a *Archivos) Mover(fd int, offset int64, whence int) (int64, error) {
	arch, err := a.archivo(fd)
	if err != nil {
		return -1, err
	}
	return arch.Seek(offset, whence)
}

// Cerrar libera el descriptor; el archivo se cierra cuando lo suelta su último dueño
func (a *Archivos) Cerrar(fd int) error {
	a.mu.Lock()
	ab, err := a.obtener(fd)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.fds[fd] = nil
	a.mu.Unlock()
	return ab.soltar()
}

// AbrirDir abre un directorio y devuelve su descriptor
func (a *Archivos) AbrirDir(ruta string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sfs == nil {
		return -1, ErrDescriptorInvalido
	}

	absoluta := a.resolver(ruta)
	dir, err := a.sfs.AbrirDir(absoluta)
	if err != nil {
		return -1, err
	}
	fd, err := a.instalar(&abierto{ruta: absoluta, dir: dir, refs: 1})
	if err != nil {
		dir.Close()
		return -1, err
	}
	return fd, nil
}

// LeerDir devuelve la próxima entrada del directorio; io.EOF al terminar
func (a *Archivos) LeerDir(fd int) (EntradaDirectorio, error) {
	a.mu.Lock()
	ab, err := a.obtener(fd)
	a.mu.Unlock()
	if err != nil {
		return EntradaDirectorio{}, err
	}
	if ab.dir == nil {
		return EntradaDirectorio{}, fmt.Errorf("fd %d: %w", fd, ErrNoEsDirectorio)
	}
	return ab.dir.Leer()
}

func (a *Archivos) CrearDir(ruta string) error {
	if a.sfs == nil {
		return ErrDescriptorInvalido
	}
	return a.sfs.CrearDir(a.Resolver(ruta))
}

func (a *Archivos) Enlazar(existente, nuevo string) error {
	if a.sfs == nil {
		return ErrDescriptorInvalido
	}
	return a.sfs.Enlazar(a.Resolver(existente), a.Resolver(nuevo))
}

func (a *Archivos) Desenlazar(ruta string) error {
	if a.sfs == nil {
		return ErrDescriptorInvalido
	}
	return a.sfs.Desenlazar(a.Resolver(ruta))
}

// CambiarDir cambia el directorio actual del proceso
func (a *Archivos) CambiarDir(ruta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	absoluta := a.resolver(ruta)
	if a.sfs == nil || !a.sfs.EsDirectorio(absoluta) {
		return fmt.Errorf("%s: %w", absoluta, ErrNoEsDirectorio)
	}
	a.cwd = absoluta
	return nil
}

func (a *Archivos) DirActual() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cwd
}

// Clonar copia la tabla para un hijo; cada archivo abierto suma una referencia
func (a *Archivos) Clonar() *Archivos {
	a.mu.Lock()
	defer a.mu.Unlock()

	hijo := &Archivos{sfs: a.sfs, cwd: a.cwd}
	for fd, ab := range a.fds {
		if ab != nil {
			ab.retener()
			hijo.fds[fd] = ab
		}
	}
	return hijo
}

// Abiertos cuenta los descriptores en uso
func (a *Archivos) Abiertos() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, ab := range a.fds {
		if ab != nil {
			n++
		}
	}
	return n
}
