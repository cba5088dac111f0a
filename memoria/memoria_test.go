package memoria

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const marcosDePrueba = 256

func nuevaFisicaDePrueba(t *testing.T) *Fisica {
	t.Helper()
	return NuevaFisica(marcosDePrueba * TamPagina)
}

func asignar(t *testing.T, f *Fisica) uint64 {
	t.Helper()
	pa, err := f.AsignarMarco()
	if err != nil {
		t.Fatalf("AsignarMarco: %v", err)
	}
	return pa
}

func TestAsignarMarcoAgotado(t *testing.T) {
	f := NuevaFisica(2 * TamPagina)
	a := asignar(t, f)
	b := asignar(t, f)
	if a == b {
		t.Fatalf("marcos repetidos: %#x", a)
	}
	if _, err := f.AsignarMarco(); !errors.Is(err, ErrSinMarcos) {
		t.Fatalf("esperaba ErrSinMarcos, obtuve %v", err)
	}
	f.LiberarMarco(a)
	if c := asignar(t, f); c != a {
		t.Errorf("esperaba reusar %#x, obtuve %#x", a, c)
	}
}

func TestAsignarMarcoDevuelveCeros(t *testing.T) {
	f := NuevaFisica(1 * TamPagina)
	pa := asignar(t, f)
	f.EscribirPalabra(pa+8, 0xdeadbeef)
	f.LiberarMarco(pa)

	pa = asignar(t, f)
	if v := f.LeerPalabra(pa + 8); v != 0 {
		t.Errorf("marco reasignado sin limpiar: %#x", v)
	}
}

func TestReferencias(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	pa := asignar(t, f)
	f.Retener(pa)
	if got := f.Referencias(pa); got != 2 {
		t.Fatalf("Referencias = %d, want 2", got)
	}
	if f.LiberarMarco(pa) {
		t.Fatalf("el marco se liberó con una referencia pendiente")
	}
	if !f.LiberarMarco(pa) {
		t.Fatalf("el marco no se liberó al soltar la última referencia")
	}
	if e := f.Estadisticas(); e.Libres != marcosDePrueba {
		t.Errorf("Libres = %d, want %d", e.Libres, marcosDePrueba)
	}
}

func TestIndice(t *testing.T) {
	tests := []struct {
		va    uint64
		nivel int
		want  int
	}{
		{0x0000_1000, 0, 1},
		{0x0020_0000, 1, 1},
		{0x0020_0000, 0, 0},
		{0x4000_0000, 2, 1},
		{0x7fff_f000, 0, 511},
		{0x7fff_f000, 1, 511},
		{0x7fff_f000, 2, 1},
	}
	for _, tt := range tests {
		if got := indice(tt.nivel, tt.va); got != tt.want {
			t.Errorf("indice(%d, %#x) = %d, want %d", tt.nivel, tt.va, got, tt.want)
		}
	}
}

func TestPTE(t *testing.T) {
	pte := PTEDesdeFisica(0x80042000, PTE_R|PTE_W|PTE_U)
	if pte.Fisica() != 0x80042000 {
		t.Errorf("Fisica = %#x", pte.Fisica())
	}
	if !pte.Valida() || !pte.Hoja() || !pte.Tiene(PTE_R|PTE_W) || pte.Tiene(PTE_X) {
		t.Errorf("bits incorrectos: %s", pte)
	}
	dir := PTEDesdeFisica(0x80043000, 0)
	if dir.Hoja() {
		t.Errorf("una entrada de directorio no es hoja: %s", dir)
	}
	if got := pte.ConPermisos(PTE_R | PTE_U | PTE_COW); got.Fisica() != pte.Fisica() || got.Tiene(PTE_W) {
		t.Errorf("ConPermisos = %s", got)
	}
}

func TestMapearYTraducir(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	tabla, err := NuevaTablaPaginas(f)
	if err != nil {
		t.Fatal(err)
	}
	usuario := asignar(t, f)
	kernel := asignar(t, f)

	if err := tabla.Mapear(0x400000, TamPagina, usuario, PTE_R|PTE_W|PTE_U); err != nil {
		t.Fatal(err)
	}
	if err := tabla.Mapear(0x7fffe000, TamPagina, kernel, PTE_R|PTE_W); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		nombre  string
		va      uint64
		want    uint64
		wantErr error
	}{
		{"usuario", 0x400123, usuario + 0x123, nil},
		{"sin mapear", 0x401000, 0, ErrNoMapeada},
		{"sin bit U", 0x7fffe010, 0, ErrNoMapeada},
		{"fuera de rango", MaxVA, 0, ErrFueraDeRango},
	}
	for _, tt := range tests {
		t.Run(tt.nombre, func(t *testing.T) {
			got, err := tabla.Traducir(tt.va)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Traducir(%#x) = %#x, want %#x", tt.va, got, tt.want)
			}
		})
	}

	if err := tabla.Mapear(0x400010, TamPagina, usuario, PTE_R); !errors.Is(err, ErrNoAlineada) {
		t.Errorf("esperaba ErrNoAlineada, obtuve %v", err)
	}
}

func TestMapearDosVecesEntraEnPanico(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	tabla, _ := NuevaTablaPaginas(f)
	pa := asignar(t, f)
	if err := tabla.Mapear(0x1000, TamPagina, pa, PTE_R|PTE_U); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("remapear no entró en pánico")
		}
	}()
	tabla.Mapear(0x1000, TamPagina, pa, PTE_R|PTE_U)
}

func TestDestruirConservaMarcosCompartidos(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	padre, _ := NuevaTablaPaginas(f)
	hijo, _ := NuevaTablaPaginas(f)

	codigo := asignar(t, f)
	privado := asignar(t, f)
	if err := padre.Mapear(0x10000, TamPagina, codigo, PTE_R|PTE_X|PTE_U); err != nil {
		t.Fatal(err)
	}
	f.Retener(codigo)
	if err := hijo.Mapear(0x10000, TamPagina, codigo, PTE_R|PTE_X|PTE_U); err != nil {
		t.Fatal(err)
	}
	if err := hijo.Mapear(0x400000, TamPagina, privado, PTE_R|PTE_W|PTE_U); err != nil {
		t.Fatal(err)
	}
	f.EscribirPalabra(codigo, 0x13)

	hijo.Destruir()

	if got := f.Referencias(codigo); got != 1 {
		t.Fatalf("referencias del marco de código = %d, want 1", got)
	}
	if f.LeerPalabra(codigo) != 0x13 {
		t.Errorf("el contenido del código cambió")
	}
	if pa, err := padre.Traducir(0x10000); err != nil || pa != codigo {
		t.Errorf("el padre perdió su código: %#x %v", pa, err)
	}

	padre.Destruir()
	if e := f.Estadisticas(); e.Libres != marcosDePrueba {
		t.Errorf("quedaron marcos sin liberar: %+v", e)
	}
}

func TestResolverFalloEscritura(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	padre, _ := NuevaTablaPaginas(f)
	hijo, _ := NuevaTablaPaginas(f)

	const va = 0x400000
	pa := asignar(t, f)
	f.EscribirPalabra(pa, 42)
	if err := padre.Mapear(va, TamPagina, pa, PTE_R|PTE_W|PTE_U); err != nil {
		t.Fatal(err)
	}
	if _, err := padre.MarcarCOW(va); err != nil {
		t.Fatal(err)
	}
	if err := hijo.MapearCOW(va, pa); err != nil {
		t.Fatal(err)
	}

	pp, _ := padre.Traducir(va)
	ph, _ := hijo.Traducir(va)
	if pp != ph {
		t.Fatalf("antes de escribir deberían compartir marco: %#x %#x", pp, ph)
	}

	nuevo, err := hijo.ResolverFalloEscritura(va + 8)
	if err != nil {
		t.Fatal(err)
	}
	if nuevo == pa {
		t.Fatalf("el hijo debió copiar la página compartida")
	}
	if f.LeerPalabra(nuevo) != 42 {
		t.Errorf("la copia no conserva el contenido")
	}
	f.EscribirPalabra(nuevo, 7)
	if f.LeerPalabra(pa) != 42 {
		t.Errorf("la escritura del hijo llegó al padre")
	}
	if pte, _ := hijo.Buscar(va); !pte.Tiene(PTE_W) || pte.Tiene(PTE_COW) {
		t.Errorf("PTE del hijo tras la copia: %s", pte)
	}

	reclamado, err := padre.ResolverFalloEscritura(va)
	if err != nil {
		t.Fatal(err)
	}
	if reclamado != pa {
		t.Errorf("el padre debió reclamar su marco en el lugar: %#x", reclamado)
	}

	m := f.Metricas().Resumen()
	if m.FallosCOWCopia != 1 || m.FallosCOWReclamo != 1 {
		t.Errorf("métricas COW = %+v", m)
	}

	if _, err := padre.ResolverFalloEscritura(va); !errors.Is(err, ErrProteccion) {
		t.Errorf("una página escribible no es COW, obtuve %v", err)
	}
}

func TestDesmapear(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	tabla, _ := NuevaTablaPaginas(f)
	pa := asignar(t, f)
	tabla.Mapear(0x2000, TamPagina, pa, PTE_R|PTE_U)

	if err := tabla.Desmapear(0x2000, 1, true); err != nil {
		t.Fatal(err)
	}
	if _, err := tabla.Traducir(0x2000); !errors.Is(err, ErrNoMapeada) {
		t.Errorf("la página sigue mapeada: %v", err)
	}
	if err := tabla.Desmapear(0x2000, 1, true); !errors.Is(err, ErrNoMapeada) {
		t.Errorf("esperaba ErrNoMapeada, obtuve %v", err)
	}
}

func TestRecorridoEnOrden(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	tabla, _ := NuevaTablaPaginas(f)
	vas := []uint64{0x7ffff000, 0x10000, 0x400000, 0x401000}
	for _, va := range vas {
		tabla.Mapear(va, TamPagina, asignar(t, f), PTE_R|PTE_U)
	}

	var vistas []uint64
	tabla.Recorrido(func(va uint64, pte PTE) {
		vistas = append(vistas, va)
	})

	want := []uint64{0x10000, 0x400000, 0x401000, 0x7ffff000}
	if len(vistas) != len(want) {
		t.Fatalf("vistas = %#x", vistas)
	}
	for i := range want {
		if vistas[i] != want[i] {
			t.Errorf("vistas[%d] = %#x, want %#x", i, vistas[i], want[i])
		}
	}
}

func TestTLBReemplazo(t *testing.T) {
	tests := []struct {
		algoritmo string
		victima   uint64
	}{
		{"FIFO", 1},
		{"LRU", 2},
	}
	for _, tt := range tests {
		t.Run(tt.algoritmo, func(t *testing.T) {
			tlb := NuevaTLB(2, tt.algoritmo, nil)
			tlb.Actualizar(1, PTE_V)
			tlb.Actualizar(2, PTE_V)
			tlb.Buscar(1)
			tlb.Actualizar(3, PTE_V)

			if _, ok := tlb.Buscar(tt.victima); ok {
				t.Errorf("la página %d debió ser reemplazada", tt.victima)
			}
			if _, ok := tlb.Buscar(3); !ok {
				t.Errorf("falta la página nueva")
			}
		})
	}
}

func TestTLBVaciar(t *testing.T) {
	tlb := NuevaTLB(4, "fifo", nil)
	tlb.Actualizar(1, PTE_V)
	tlb.Actualizar(2, PTE_V)
	tlb.Invalidar(1)
	if tlb.Validas() != 1 {
		t.Fatalf("Validas = %d", tlb.Validas())
	}
	tlb.Vaciar()
	if tlb.Validas() != 0 {
		t.Errorf("la TLB no quedó vacía")
	}
}

func TestMMUTraducir(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	tabla, _ := NuevaTablaPaginas(f)
	rw := asignar(t, f)
	ro := asignar(t, f)
	cow := asignar(t, f)
	tabla.Mapear(0x1000, TamPagina, rw, PTE_R|PTE_W|PTE_U)
	tabla.Mapear(0x2000, TamPagina, ro, PTE_R|PTE_X|PTE_U)
	tabla.MapearCOW(0x3000, cow)

	mmu := NuevaMMU(NuevaTLB(4, "LRU", f.Metricas()))
	mmu.Activar(tabla)

	tests := []struct {
		nombre string
		va     uint64
		acceso Acceso
		want   uint64
		causa  error
	}{
		{"lectura", 0x1008, Lectura, rw + 8, nil},
		{"escritura", 0x1010, Escritura, rw + 0x10, nil},
		{"ejecución", 0x2000, Ejecucion, ro, nil},
		{"escritura en código", 0x2000, Escritura, 0, ErrProteccion},
		{"escritura COW", 0x3000, Escritura, 0, ErrCOW},
		{"sin mapear", 0x9000, Lectura, 0, ErrNoMapeada},
	}
	for _, tt := range tests {
		t.Run(tt.nombre, func(t *testing.T) {
			got, err := mmu.Traducir(tt.va, tt.acceso)
			if tt.causa == nil {
				if err != nil || got != tt.want {
					t.Fatalf("Traducir = %#x, %v; want %#x", got, err, tt.want)
				}
				return
			}
			var fallo *FalloPagina
			if !errors.As(err, &fallo) || !errors.Is(err, tt.causa) {
				t.Fatalf("err = %v, want %v", err, tt.causa)
			}
		})
	}

	pte, _ := tabla.Buscar(0x1000)
	if !pte.Tiene(PTE_A | PTE_D) {
		t.Errorf("faltan los bits A/D tras escribir: %s", pte)
	}

	tabla.ResolverFalloEscritura(0x3000)
	mmu.Invalidar(0x3000)
	if _, err := mmu.Traducir(0x3000, Escritura); err != nil {
		t.Errorf("tras resolver el COW la escritura debe pasar: %v", err)
	}
}

func TestCrearDump(t *testing.T) {
	f := nuevaFisicaDePrueba(t)
	tabla, _ := NuevaTablaPaginas(f)
	a := asignar(t, f)
	b := asignar(t, f)
	tabla.Mapear(0x400000, TamPagina, b, PTE_R|PTE_W|PTE_U)
	tabla.Mapear(0x10000, TamPagina, a, PTE_R|PTE_X|PTE_U)
	tabla.Mapear(0x7fffe000, TamPagina, asignar(t, f), PTE_R|PTE_W)
	f.Escribir(a, []byte("codigo"))
	f.Escribir(b, []byte("heap"))

	dir := t.TempDir()
	ruta, err := CrearDump(dir, 3, tabla)
	if err != nil {
		t.Fatal(err)
	}
	contenido, err := os.ReadFile(ruta)
	if err != nil {
		t.Fatal(err)
	}
	if len(contenido) != 2*TamPagina {
		t.Fatalf("el dump tiene %d bytes, want %d", len(contenido), 2*TamPagina)
	}
	if string(contenido[:6]) != "codigo" || string(contenido[TamPagina:TamPagina+4]) != "heap" {
		t.Errorf("páginas fuera de orden en el dump")
	}

	mapa := filepath.Join(dir, "marcos.png")
	if err := GenerarMapaMarcos(mapa, f); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(mapa); err != nil || info.Size() == 0 {
		t.Errorf("no se generó el mapa de marcos: %v", err)
	}
}
