package memoria

import (
	"fmt"
	"sync"

	"github.com/LucasIBorrat/nucleo-pke/utils"
)

const (
	EntradasPorTabla = 512
	Niveles          = 3
	bitsPorNivel     = 9

	// Primera dirección inválida en Sv39 (sin extensión de signo)
	MaxVA uint64 = 1 << (bitsPorNivel*Niveles + DesplazamientoPagina - 1)
)

// indice calcula la posición de va dentro del directorio de un nivel (2 = raíz, 0 = hojas)
func indice(nivel int, va uint64) int {
	return int((va >> (DesplazamientoPagina + bitsPorNivel*uint(nivel))) & (EntradasPorTabla - 1))
}

// directorio es una página de 512 entradas guardada en memoria física
type directorio struct {
	fisica *Fisica
	pa     uint64
}

func (d directorio) entrada(i int) PTE {
	return PTE(d.fisica.LeerPalabra(d.pa + uint64(i)*8))
}

func (d directorio) fijar(i int, e PTE) {
	d.fisica.EscribirPalabra(d.pa+uint64(i)*8, uint64(e))
}

// Entrada es la ubicación de una PTE hoja dentro de su directorio
type Entrada struct {
	dir directorio
	i   int
}

func (e *Entrada) PTE() PTE {
	return e.dir.entrada(e.i)
}

func (e *Entrada) Fijar(p PTE) {
	e.dir.fijar(e.i, p)
}

// TablaPaginas es la tabla de tres niveles de un espacio de direcciones.
// Las hojas son dueñas de una referencia al marco al que apuntan.
type TablaPaginas struct {
	mu     sync.Mutex
	fisica *Fisica
	raiz   uint64
}

// NuevaTablaPaginas reserva el directorio raíz
func NuevaTablaPaginas(f *Fisica) (*TablaPaginas, error) {
	raiz, err := f.AsignarMarco()
	if err != nil {
		return nil, fmt.Errorf("crear tabla de páginas: %w", err)
	}
	utils.InfoLog.Debug("Tabla de páginas creada", "raiz", fmt.Sprintf("%#x", raiz))
	return &TablaPaginas{fisica: f, raiz: raiz}, nil
}

// Raiz devuelve la dirección física del directorio raíz (el valor que iría en satp)
func (t *TablaPaginas) Raiz() uint64 {
	return t.raiz
}

func (t *TablaPaginas) Fisica() *Fisica {
	return t.fisica
}

// Recorrer desciende los tres niveles hasta la entrada hoja de va.
// Con crear, los directorios intermedios que falten se reservan en cero.
func (t *TablaPaginas) Recorrer(va uint64, crear bool) (*Entrada, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recorrer(va, crear)
}

func (t *TablaPaginas) recorrer(va uint64, crear bool) (*Entrada, error) {
	if va >= MaxVA {
		return nil, fmt.Errorf("%#x: %w", va, ErrFueraDeRango)
	}
	if t.raiz == 0 {
		return nil, ErrNoMapeada
	}
	t.fisica.metricas.RecorridosTabla.Add(1)

	dir := directorio{fisica: t.fisica, pa: t.raiz}
	for nivel := Niveles - 1; nivel > 0; nivel-- {
		i := indice(nivel, va)
		e := dir.entrada(i)
		if e.Valida() {
			if e.Hoja() {
				return nil, fmt.Errorf("hoja inesperada en nivel %d para %#x: %w", nivel, va, ErrNoMapeada)
			}
			dir = directorio{fisica: t.fisica, pa: e.Fisica()}
			continue
		}
		if !crear {
			return nil, ErrNoMapeada
		}
		pa, err := t.fisica.AsignarMarco()
		if err != nil {
			return nil, err
		}
		dir.fijar(i, PTEDesdeFisica(pa, 0))
		dir = directorio{fisica: t.fisica, pa: pa}
	}
	return &Entrada{dir: dir, i: indice(0, va)}, nil
}

// Mapear instala entradas para [va, va+largo) hacia [pa, pa+largo).
// La tabla toma la referencia de cada marco. Remapear una entrada válida es un error de programación.
func (t *TablaPaginas) Mapear(va, largo, pa uint64, perm PTE) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mapear(va, largo, pa, perm)
}

func (t *TablaPaginas) mapear(va, largo, pa uint64, perm PTE) error {
	if va%TamPagina != 0 || pa%TamPagina != 0 || largo%TamPagina != 0 || largo == 0 {
		return fmt.Errorf("mapear va=%#x largo=%#x pa=%#x: %w", va, largo, pa, ErrNoAlineada)
	}
	for off := uint64(0); off < largo; off += TamPagina {
		e, err := t.recorrer(va+off, true)
		if err != nil {
			return fmt.Errorf("mapear %#x: %w", va+off, err)
		}
		if e.PTE().Valida() {
			panic(fmt.Sprintf("remapeo de %#x", va+off))
		}
		e.Fijar(PTEDesdeFisica(pa+off, perm))
	}
	return nil
}

// Buscar devuelve la entrada hoja válida de va
func (t *TablaPaginas) Buscar(va uint64) (PTE, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buscar(va)
}

func (t *TablaPaginas) buscar(va uint64) (PTE, error) {
	e, err := t.recorrer(va, false)
	if err != nil {
		return 0, err
	}
	pte := e.PTE()
	if !pte.Valida() {
		return 0, ErrNoMapeada
	}
	return pte, nil
}

// Traducir convierte una dirección virtual de usuario en física
func (t *TablaPaginas) Traducir(va uint64) (uint64, error) {
	pte, err := t.Buscar(va)
	if err != nil {
		return 0, err
	}
	if !pte.Tiene(PTE_U) {
		return 0, ErrNoMapeada
	}
	return pte.Fisica() | (va & (TamPagina - 1)), nil
}

// Acceder marca la página como accedida (y sucia si es escritura permitida) y devuelve su entrada
func (t *TablaPaginas) Acceder(va uint64, escritura bool) (PTE, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.recorrer(va, false)
	if err != nil {
		return 0, err
	}
	pte := e.PTE()
	if !pte.Valida() {
		return 0, ErrNoMapeada
	}
	nueva := pte | PTE_A
	if escritura && pte.Tiene(PTE_W) {
		nueva |= PTE_D
	}
	if nueva != pte {
		e.Fijar(nueva)
	}
	return nueva, nil
}

// MapearCOW instala una hoja de solo lectura marcada COW hacia un marco compartido
func (t *TablaPaginas) MapearCOW(va, pa uint64) error {
	t.fisica.Retener(pa)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.mapear(va, TamPagina, pa, PTE_R|PTE_U|PTE_COW); err != nil {
		t.fisica.LiberarMarco(pa)
		return err
	}
	return nil
}

// MarcarCOW quita la escritura de una hoja escribible y la marca COW; devuelve el marco
func (t *TablaPaginas) MarcarCOW(va uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.recorrer(va, false)
	if err != nil {
		return 0, err
	}
	pte := e.PTE()
	if !pte.Valida() {
		return 0, ErrNoMapeada
	}
	if pte.Tiene(PTE_W) {
		e.Fijar((pte &^ PTE_W) | PTE_COW)
	}
	return pte.Fisica(), nil
}

// Desmapear limpia paginas hojas desde va; con liberar suelta la referencia de cada marco
func (t *TablaPaginas) Desmapear(va uint64, paginas int, liberar bool) error {
	if va%TamPagina != 0 {
		return fmt.Errorf("desmapear %#x: %w", va, ErrNoAlineada)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < paginas; i++ {
		actual := va + uint64(i)*TamPagina
		e, err := t.recorrer(actual, false)
		if err != nil {
			return fmt.Errorf("desmapear %#x: %w", actual, err)
		}
		pte := e.PTE()
		if !pte.Valida() {
			return fmt.Errorf("desmapear %#x: %w", actual, ErrNoMapeada)
		}
		e.Fijar(0)
		if liberar {
			t.fisica.LiberarMarco(pte.Fisica())
		}
	}
	return nil
}

// Destruir suelta la referencia de cada hoja y libera todos los directorios.
// Un marco compartido sobrevive mientras otro espacio lo siga referenciando.
func (t *TablaPaginas) Destruir() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.raiz == 0 {
		return
	}
	t.liberarDirectorio(t.raiz, Niveles-1)
	t.raiz = 0
}

func (t *TablaPaginas) liberarDirectorio(pa uint64, nivel int) {
	dir := directorio{fisica: t.fisica, pa: pa}
	for i := 0; i < EntradasPorTabla; i++ {
		e := dir.entrada(i)
		if !e.Valida() {
			continue
		}
		if nivel > 0 && !e.Hoja() {
			t.liberarDirectorio(e.Fisica(), nivel-1)
		} else {
			t.fisica.LiberarMarco(e.Fisica())
		}
		dir.fijar(i, 0)
	}
	t.fisica.LiberarMarco(pa)
}

// ResolverFalloEscritura completa una escritura sobre una hoja COW.
// Si nadie más comparte el marco se lo reclama; si no, se copia a un marco nuevo.
// Devuelve el marco que queda mapeado.
func (t *TablaPaginas) ResolverFalloEscritura(va uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.recorrer(RedondearAbajo(va), false)
	if err != nil {
		return 0, err
	}
	pte := e.PTE()
	if !pte.Valida() || !pte.Tiene(PTE_U) {
		return 0, ErrNoMapeada
	}
	if !pte.Tiene(PTE_COW) {
		return 0, ErrProteccion
	}

	perm := (pte.Permisos() | PTE_W) &^ PTE_COW
	viejo := pte.Fisica()

	if t.fisica.Referencias(viejo) == 1 {
		e.Fijar(pte.ConPermisos(perm))
		t.fisica.metricas.FallosCOWReclamo.Add(1)
		utils.InfoLog.Debug("Página COW reclamada", "va", fmt.Sprintf("%#x", va), "pa", fmt.Sprintf("%#x", viejo))
		return viejo, nil
	}

	nuevo, err := t.fisica.AsignarMarco()
	if err != nil {
		return 0, err
	}
	t.fisica.CopiarMarco(nuevo, viejo)
	e.Fijar(PTEDesdeFisica(nuevo, perm))
	t.fisica.LiberarMarco(viejo)
	t.fisica.metricas.FallosCOWCopia.Add(1)

	utils.InfoLog.Debug("Página COW copiada", "va", fmt.Sprintf("%#x", va),
		"pa_anterior", fmt.Sprintf("%#x", viejo), "pa_nueva", fmt.Sprintf("%#x", nuevo))
	return nuevo, nil
}

// Recorrido visita las hojas válidas en orden de dirección virtual
func (t *TablaPaginas) Recorrido(fn func(va uint64, pte PTE)) {
	type hoja struct {
		va  uint64
		pte PTE
	}
	var hojas []hoja

	t.mu.Lock()
	if t.raiz != 0 {
		var visitar func(pa uint64, nivel int, base uint64)
		visitar = func(pa uint64, nivel int, base uint64) {
			dir := directorio{fisica: t.fisica, pa: pa}
			for i := 0; i < EntradasPorTabla; i++ {
				e := dir.entrada(i)
				if !e.Valida() {
					continue
				}
				va := base | uint64(i)<<(DesplazamientoPagina+bitsPorNivel*uint(nivel))
				if nivel > 0 && !e.Hoja() {
					visitar(e.Fisica(), nivel-1, va)
					continue
				}
				hojas = append(hojas, hoja{va: va, pte: e})
			}
		}
		visitar(t.raiz, Niveles-1, 0)
	}
	t.mu.Unlock()

	for _, h := range hojas {
		fn(h.va, h.pte)
	}
}
