package nucleo

import (
	"fmt"
	"path"
	"reflect"
	"runtime"
	"sort"
	"sync"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/proceso"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// Programa es el código de un proceso de usuario. Solo accede a su memoria y a los
// servicios del núcleo a través de u.
type Programa func(u *Usuario)

// firmaImagen encabeza la página de código de toda imagen cargada
const firmaImagen = "\x7fPKE"

type programa struct {
	ruta    string
	fn      Programa
	simbolo string
	datos   []byte
}

// Registro es el cargador de programas de usuario escritos en Go. Cada programa se
// carga con un segmento de código sintético y, si tiene, uno de datos iniciales.
type Registro struct {
	mu        sync.RWMutex
	programas map[string]*programa
}

var _ proceso.Cargador = (*Registro)(nil)

func NuevoRegistro() *Registro {
	return &Registro{programas: make(map[string]*programa)}
}

// Registrar publica fn bajo la ruta absoluta dada
func (r *Registro) Registrar(ruta string, fn Programa, datos []byte) {
	ruta = path.Clean("/" + ruta)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.programas[ruta] = &programa{ruta: ruta, fn: fn, simbolo: simboloDe(fn), datos: datos}
	utils.InfoLog.Debug("Programa registrado", "ruta", ruta, "datos", len(datos))
}

func (r *Registro) Existe(ruta string) bool {
	_, ok := r.buscar(ruta)
	return ok
}

func (r *Registro) buscar(ruta string) (*programa, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programas[ruta]
	return p, ok
}

// Cargar mapea el código (R|X) y los datos (R|W) del programa en el destino
func (r *Registro) Cargar(d proceso.Destino, ruta string) (*proceso.Imagen, error) {
	prog, ok := r.buscar(ruta)
	if !ok {
		return nil, fmt.Errorf("%s: %w", ruta, proceso.ErrES)
	}

	codigo := []byte(firmaImagen + prog.ruta + "\x00" + prog.simbolo)
	if err := d.MapearSegmento(proceso.BaseCodigo, codigo, memoria.PTE_R|memoria.PTE_X); err != nil {
		return nil, err
	}
	if len(prog.datos) > 0 {
		base := proceso.BaseCodigo + memoria.RedondearArriba(uint64(len(codigo)))
		if err := d.MapearSegmento(base, prog.datos, memoria.PTE_R|memoria.PTE_W); err != nil {
			return nil, err
		}
	}

	utils.InfoLog.Debug("Imagen cargada", "ruta", ruta, "simbolo", prog.simbolo)
	return &proceso.Imagen{Ruta: prog.ruta, Entrada: proceso.BaseCodigo}, nil
}

// Rutas lista los programas registrados en orden
func (r *Registro) Rutas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rutas := make([]string, 0, len(r.programas))
	for ruta := range r.programas {
		rutas = append(rutas, ruta)
	}
	sort.Strings(rutas)
	return rutas
}

// simboloDe devuelve el nombre completo de la función, que funciona como tabla de
// líneas de depuración de la imagen
func simboloDe(fn any) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return ""
	}
	return f.Name()
}
