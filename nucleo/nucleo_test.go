package nucleo

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/planificador"
	"github.com/LucasIBorrat/nucleo-pke/proceso"
	"github.com/LucasIBorrat/nucleo-pke/sincro"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// salidaSegura es la consola de los tests
type salidaSegura struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *salidaSegura) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *salidaSegura) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// anotaciones junta valores observados desde los programas de usuario
type anotaciones struct {
	mu      sync.Mutex
	valores map[string]uint64
}

func (a *anotaciones) anotar(clave string, v uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.valores == nil {
		a.valores = map[string]uint64{}
	}
	a.valores[clave] = v
}

func (a *anotaciones) valor(clave string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.valores[clave]
}

func configDePrueba() *Config {
	return &Config{
		CantidadHarts:     1,
		TamMemoria:        512 * memoria.TamPagina,
		CantidadProcesos:  8,
		CantidadSemaforos: 4,
		EntradasTLB:       4,
		ReemplazoTLB:      "LRU",
		DumpPath:          "",
	}
}

func armarNucleo(t *testing.T, cfg *Config, programas map[string]Programa) (*Nucleo, *salidaSegura) {
	t.Helper()
	utils.InicializarLoggerEn(&bytes.Buffer{}, "error", "test")
	if cfg.DumpPath == "" {
		cfg.DumpPath = t.TempDir()
	}

	r := NuevoRegistro()
	for ruta, prog := range programas {
		r.Registrar(ruta, prog, []byte("datos iniciales"))
	}
	salida := &salidaSegura{}
	n, err := Nuevo(cfg, r, salida)
	if err != nil {
		t.Fatal(err)
	}
	return n, salida
}

func correr(t *testing.T, n *Nucleo) error {
	t.Helper()
	ctx, cancelar := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelar()
	err := n.Correr(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("el núcleo no terminó a tiempo")
	}
	return err
}

func lanzar(t *testing.T, n *Nucleo, ruta, arg string, hart int) *proceso.PCB {
	t.Helper()
	p, err := n.Lanzar(ruta, arg, hart)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestConfigNormalizar(t *testing.T) {
	cfg := &Config{TamMemoria: 3*memoria.TamPagina + 100, ReemplazoTLB: "lru", EntradasTLB: -2}
	cfg.Normalizar()

	if cfg.TamMemoria != 3*memoria.TamPagina || cfg.ReemplazoTLB != "LRU" || cfg.EntradasTLB != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.CantidadHarts != 2 || cfg.CantidadProcesos != 32 || cfg.PuertoKernel != 8001 || cfg.DumpPath == "" {
		t.Errorf("valores por defecto = %+v", cfg)
	}

	ruta := filepath.Join(t.TempDir(), "kernel.config")
	os.WriteFile(ruta, []byte(`{"CANTIDAD_HARTS": 4, "PREEMPTIVO": true, "PROGRAMAS_INICIALES": ["/bin/shell", "/bin/cow"]}`), 0644)
	leida, err := utils.LeerConfiguracion[Config](ruta)
	if err != nil {
		t.Fatal(err)
	}
	if leida.CantidadHarts != 4 || !leida.Preemptivo || len(leida.ProgramasIniciales) != 2 {
		t.Errorf("configuración leída = %+v", leida)
	}
}

func TestHolaMundo(t *testing.T) {
	n, salida := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/hola": func(u *Usuario) {
			u.Imprimir("hola %s desde %d\n", u.Arg(), u.PID())
		},
	})
	p := lanzar(t, n, "/bin/hola", "mundo", 0)

	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}
	if got := salida.String(); !strings.Contains(got, "hola mundo desde 0\n") || !strings.Contains(got, "User exit with code:0.") {
		t.Errorf("salida = %q", got)
	}
	if p.Estado() != proceso.EstadoZombie {
		t.Errorf("estado final = %s", p.Estado())
	}
}

func TestLanzarProgramaInexistente(t *testing.T) {
	n, _ := armarNucleo(t, configDePrueba(), nil)
	if _, err := n.Lanzar("/bin/nada", "", 0); !errors.Is(err, proceso.ErrES) {
		t.Errorf("err = %v", err)
	}
	if c := n.Tabla().Conteo(); c[proceso.EstadoFree] != 8 {
		t.Errorf("el PCB no volvió al pool: %v", c)
	}
}

func TestForkCopiaEnEscritura(t *testing.T) {
	var a anotaciones
	n, _ := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/cow": func(u *Usuario) {
			va := u.Malloc(8)
			u.EscribirEntero(va, 42)
			paPadre := u.Fisica(va)
			a.anotar("pa_padre", paPadre)

			pid := u.Fork(func(u *Usuario) {
				a.anotar("hijo_lee", uint64(u.LeerEntero(va)))
				a.anotar("hijo_antes", u.Fisica(va))
				u.EscribirEntero(va, 7)
				a.anotar("hijo_despues", u.Fisica(va))
				a.anotar("hijo_valor", uint64(u.LeerEntero(va)))
				u.Salir(3)
			})
			hijo, codigo := u.Esperar(pid)
			a.anotar("esperado", uint64(hijo))
			a.anotar("codigo", uint64(codigo))
			a.anotar("padre_lee", uint64(u.LeerEntero(va)))

			u.EscribirEntero(va, 1)
			a.anotar("padre_reclama", u.Fisica(va))
		},
	})
	lanzar(t, n, "/bin/cow", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}

	pa := a.valor("pa_padre")
	checks := []struct {
		clave string
		want  uint64
	}{
		{"hijo_lee", 42},
		{"hijo_antes", pa},
		{"hijo_valor", 7},
		{"esperado", 1},
		{"codigo", 3},
		{"padre_lee", 42},
		{"padre_reclama", pa},
	}
	for _, c := range checks {
		if got := a.valor(c.clave); got != c.want {
			t.Errorf("%s = %#x, want %#x", c.clave, got, c.want)
		}
	}
	if a.valor("hijo_despues") == pa {
		t.Error("la escritura del hijo no separó la página")
	}

	m := n.Fisica().Metricas()
	if m.FallosCOWCopia.Load() != 1 || m.FallosCOWReclamo.Load() != 1 {
		t.Errorf("fallos COW: copia=%d reclamo=%d", m.FallosCOWCopia.Load(), m.FallosCOWReclamo.Load())
	}
}

func TestSemaforosOrdenan(t *testing.T) {
	n, salida := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/sem": func(u *Usuario) {
			s1 := u.SemNuevo(0)
			s2 := u.SemNuevo(0)
			u.Fork(func(u *Usuario) {
				u.SemP(s1)
				u.Imprimir("hijo\n")
				u.SemV(s2)
			})
			u.Imprimir("padre\n")
			u.SemV(s1)
			u.SemP(s2)
			u.Imprimir("fin\n")
		},
	})
	lanzar(t, n, "/bin/sem", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}

	got := salida.String()
	i, j, k := strings.Index(got, "padre\n"), strings.Index(got, "hijo\n"), strings.Index(got, "fin\n")
	if i < 0 || j < i || k < j {
		t.Errorf("orden incorrecto: %q", got)
	}
}

func TestExec(t *testing.T) {
	n, salida := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/eco": func(u *Usuario) {
			var buf [15]byte
			u.Leer(u.DatosIniciales(), buf[:])
			u.Imprimir("eco %s [%s] pid %d\n", u.Arg(), buf[:], u.PID())
			u.Salir(5)
		},
		"/bin/shell": func(u *Usuario) {
			if u.Exec("/bin/nada", "x") != -1 {
				u.Imprimir("exec inexistente no falló\n")
			}
			pid := u.Fork(func(u *Usuario) {
				u.Exec("/bin/eco", "hola")
				u.Imprimir("no debería verse\n")
			})
			_, codigo := u.Esperar(pid)
			u.Imprimir("shell: hijo terminó con %d\n", codigo)
		},
	})
	lanzar(t, n, "/bin/shell", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}

	got := salida.String()
	for _, want := range []string{"eco hola [datos iniciales] pid 1\n", "shell: hijo terminó con 5\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("falta %q en %q", want, got)
		}
	}
	if strings.Contains(got, "no debería verse") || strings.Contains(got, "no falló") {
		t.Errorf("salida inesperada: %q", got)
	}
}

func TestFalloDeMemoriaTerminaSoloAlProceso(t *testing.T) {
	tests := []struct {
		nombre string
		prog   Programa
	}{
		{"lectura sin mapear", func(u *Usuario) { u.LeerEntero(0xdead0000) }},
		{"escritura en código", func(u *Usuario) { u.EscribirEntero(proceso.BaseCodigo, 1) }},
		{"pánico", func(u *Usuario) {
			var v []int
			_ = v[3]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.nombre, func(t *testing.T) {
			var codigo atomic.Int64
			n, salida := armarNucleo(t, configDePrueba(), map[string]Programa{
				"/bin/padre": func(u *Usuario) {
					pid := u.Fork(tt.prog)
					_, c := u.Esperar(pid)
					codigo.Store(int64(c))
					u.Imprimir("padre sigue\n")
				},
			})
			lanzar(t, n, "/bin/padre", "", 0)
			if err := correr(t, n); err != nil {
				t.Fatal(err)
			}

			got := salida.String()
			if codigo.Load() != -1 {
				t.Errorf("código del hijo = %d", codigo.Load())
			}
			if !strings.Contains(got, "Runtime error at") || !strings.Contains(got, "nucleo_test.go") {
				t.Errorf("sin diagnóstico de línea: %q", got)
			}
			if !strings.Contains(got, "padre sigue") {
				t.Errorf("el padre no sobrevivió: %q", got)
			}
		})
	}
}

func backtraceNivel2(u *Usuario) int { return u.Backtrace(2) }

func backtraceNivel1(u *Usuario) int { return backtraceNivel2(u) }

func TestBacktrace(t *testing.T) {
	var impresas atomic.Int64
	n, salida := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/bt": func(u *Usuario) {
			impresas.Store(int64(backtraceNivel1(u)))
		},
	})
	lanzar(t, n, "/bin/bt", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}

	if impresas.Load() != 2 {
		t.Errorf("impresas = %d", impresas.Load())
	}
	if got := salida.String(); !strings.HasPrefix(got, "nucleo.backtraceNivel2\nnucleo.backtraceNivel1\n") {
		t.Errorf("backtrace = %q", got)
	}
}

func TestLlamadasPorNumero(t *testing.T) {
	var a anotaciones
	n, salida := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/sys": func(u *Usuario) {
			texto := []byte("por número\n\x00")
			va := uint64(u.Llamada(SysMalloc, uint64(len(texto)), 0, 0))
			u.Escribir(va, texto)

			a.anotar("imprimir", uint64(u.Llamada(SysImprimir, va, uint64(len(texto)-1), 0)))
			a.anotar("fisica", uint64(u.Llamada(SysFisica, va, 0, 0)))
			a.anotar("desconocida", uint64(u.Llamada(999, 0, 0, 0)))
			a.anotar("fork", uint64(u.Llamada(SysFork, 0, 0, 0)))
			a.anotar("exec_invalido", uint64(u.Llamada(SysExec, 0xdead0000, 0, 0)))
			a.anotar("free", uint64(u.Llamada(SysFree, va, 0, 0)))
			a.anotar("free_doble", uint64(u.Llamada(SysFree, va, 0, 0)))
			u.Llamada(SysSalir, 9, 0, 0)
			a.anotar("despues_de_salir", 1)
		},
	})
	p := lanzar(t, n, "/bin/sys", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}

	menosUno := uint64(0xffffffffffffffff)
	if !strings.Contains(salida.String(), "por número\n") {
		t.Errorf("salida = %q", salida.String())
	}
	if a.valor("imprimir") != uint64(len("por número\n")) || a.valor("fisica") < memoria.BaseDRAM {
		t.Errorf("imprimir=%d fisica=%#x", a.valor("imprimir"), a.valor("fisica"))
	}
	for _, clave := range []string{"desconocida", "fork", "exec_invalido", "free_doble"} {
		if a.valor(clave) != menosUno {
			t.Errorf("%s = %d, want -1", clave, int64(a.valor(clave)))
		}
	}
	if a.valor("free") != 0 || a.valor("despues_de_salir") != 0 {
		t.Errorf("free=%d despues=%d", a.valor("free"), a.valor("despues_de_salir"))
	}
	if p.CodigoSalida != 9 {
		t.Errorf("código de salida = %d", p.CodigoSalida)
	}
}

func TestArchivos(t *testing.T) {
	raiz := t.TempDir()
	os.WriteFile(filepath.Join(raiz, "shellrc"), []byte("/bin/app_ls /\n"), 0644)
	cfg := configDePrueba()
	cfg.RaizHostFS = raiz

	var entradas atomic.Int64
	n, salida := armarNucleo(t, cfg, map[string]Programa{
		"/bin/archivos": func(u *Usuario) {
			buf := u.Malloc(64)
			fd := u.Abrir("/shellrc", proceso.ModoLectura)
			leidos := u.LeerArchivo(fd, buf, 64)
			contenido := make([]byte, leidos)
			u.Leer(buf, contenido)
			u.Imprimir("leído: %s", contenido)
			u.Cerrar(fd)

			u.CrearDir("/tmp")
			u.CambiarDir("tmp")
			out := u.Abrir("nota", proceso.ModoEscritura|proceso.ModoCrear)
			u.EscribirArchivo(out, buf, leidos)
			u.Cerrar(out)
			u.Imprimir("cwd: %s\n", u.DirActual())

			if u.LeerArchivo(out, buf, 1) != -1 || u.EscribirArchivo(99, buf, 1) != -1 {
				u.Imprimir("descriptor inválido aceptado\n")
			}

			dir := u.AbrirDir("/")
			for {
				_, st := u.LeerDir(dir)
				if st != 0 {
					break
				}
				entradas.Add(1)
			}
			u.Cerrar(dir)
		},
	})
	lanzar(t, n, "/bin/archivos", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}

	got := salida.String()
	if !strings.Contains(got, "leído: /bin/app_ls /\n") || !strings.Contains(got, "cwd: /tmp\n") {
		t.Errorf("salida = %q", got)
	}
	if strings.Contains(got, "inválido aceptado") {
		t.Error("un descriptor inválido no devolvió -1")
	}
	if b, _ := os.ReadFile(filepath.Join(raiz, "tmp", "nota")); string(b) != "/bin/app_ls /\n" {
		t.Errorf("archivo escrito = %q", b)
	}
	if entradas.Load() != 2 {
		t.Errorf("entradas en / = %d", entradas.Load())
	}
}

func TestDosHartsApagadoUnico(t *testing.T) {
	cfg := configDePrueba()
	cfg.CantidadHarts = 2
	var harts [2]atomic.Int64
	prog := func(u *Usuario) {
		harts[u.Hart()].Add(1)
		for i := 0; i < 3; i++ {
			u.Ceder()
		}
	}
	n, _ := armarNucleo(t, cfg, map[string]Programa{"/bin/a": prog, "/bin/b": prog})
	lanzar(t, n, "/bin/a", "", 0)
	lanzar(t, n, "/bin/b", "", 1)

	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}
	if harts[0].Load() != 1 || harts[1].Load() != 1 {
		t.Errorf("reparto por hart = %d, %d", harts[0].Load(), harts[1].Load())
	}
	select {
	case <-n.Apagado():
	default:
		t.Error("el núcleo no quedó apagado")
	}
	if !n.Tabla().Quiescente() {
		t.Errorf("tabla = %v", n.Tabla().Conteo())
	}
}

func TestPreemptivoDesaloja(t *testing.T) {
	cfg := configDePrueba()
	cfg.Preemptivo = true
	cfg.IntervaloTimerMs = 1

	var corrioB atomic.Bool
	var bAntesDeTerminarA atomic.Bool
	n, _ := armarNucleo(t, cfg, map[string]Programa{
		"/bin/a": func(u *Usuario) {
			limite := time.Now().Add(2 * time.Second)
			for !corrioB.Load() && time.Now().Before(limite) {
				u.Fisica(proceso.BasePilaUsuario)
				time.Sleep(100 * time.Microsecond)
			}
			bAntesDeTerminarA.Store(corrioB.Load())
		},
		"/bin/b": func(u *Usuario) {
			corrioB.Store(true)
		},
	})
	lanzar(t, n, "/bin/a", "", 0)
	lanzar(t, n, "/bin/b", "", 0)

	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}
	if !bAntesDeTerminarA.Load() {
		t.Error("el timer no desalojó al proceso A")
	}
}

func TestInterbloqueo(t *testing.T) {
	n, _ := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/trabado": func(u *Usuario) {
			s := u.SemNuevo(0)
			u.SemP(s)
		},
	})
	lanzar(t, n, "/bin/trabado", "", 0)
	if err := correr(t, n); !errors.Is(err, planificador.ErrInterbloqueo) {
		t.Errorf("err = %v", err)
	}
}

func TestForkSinPCBsDevuelveError(t *testing.T) {
	cfg := configDePrueba()
	cfg.CantidadProcesos = 1
	var pid atomic.Int64
	n, _ := armarNucleo(t, cfg, map[string]Programa{
		"/bin/solo": func(u *Usuario) {
			pid.Store(int64(u.Fork(func(u *Usuario) {})))
		},
	})
	lanzar(t, n, "/bin/solo", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}
	if pid.Load() != -1 {
		t.Errorf("fork = %d", pid.Load())
	}
}

func TestHandlers(t *testing.T) {
	var va atomic.Uint64
	n, _ := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/heap": func(u *Usuario) {
			v := u.Malloc(32)
			u.EscribirEntero(v, 5)
			va.Store(v)
			u.SemNuevo(2)
		},
	})
	p := lanzar(t, n, "/bin/heap", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}

	despachar := func(tipo int, datos map[string]interface{}) map[string]interface{} {
		t.Helper()
		res, err := n.Modulo().Despachar(&utils.Mensaje{Tipo: tipo, Datos: datos})
		if err != nil {
			t.Fatalf("tipo %d: %v", tipo, err)
		}
		return res.(map[string]interface{})
	}

	lista := despachar(utils.MensajeListarProcesos, nil)
	if procs := lista["procesos"].([]proceso.ResumenPCB); len(procs) != 1 || procs[0].Programa != "/bin/heap" {
		t.Errorf("procesos = %+v", procs)
	}

	tr := despachar(utils.MensajeTraducir, map[string]interface{}{"pid": float64(p.PID), "va": "0x400010"})
	pa, _ := p.Tabla.Traducir(va.Load())
	if tr["segmento"] != "HEAP" || tr["referencias"] != 1 || tr["pa"] == "" {
		t.Errorf("traducción = %v (pa real %#x)", tr, pa)
	}

	dump := despachar(utils.MensajeMemoryDump, map[string]interface{}{"pid": float64(p.PID)})
	for _, clave := range []string{"archivo", "mapa"} {
		if _, err := os.Stat(dump[clave].(string)); err != nil {
			t.Errorf("%s: %v", clave, err)
		}
	}

	libre := despachar(utils.MensajeEspacioLibre, nil)
	if libre["espacio_libre"].(int) <= 0 {
		t.Errorf("espacio libre = %v", libre["espacio_libre"])
	}

	sems := despachar(utils.MensajeSemaforos, nil)
	if len(sems["semaforos"].([]sincro.ResumenSemaforo)) != 1 {
		t.Errorf("semáforos = %v", sems["semaforos"])
	}

	if _, err := n.Modulo().Despachar(&utils.Mensaje{Tipo: utils.MensajeTraducir, Datos: map[string]interface{}{"pid": float64(7), "va": float64(0)}}); err == nil {
		t.Error("traducir un pid libre debería fallar")
	}
}

func TestMallocFueraDeRango(t *testing.T) {
	var a anotaciones
	var libresAntes, libresDespues atomic.Int64
	var n *Nucleo
	n, _ = armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/grande": func(u *Usuario) {
			u.Malloc(100)
			antes, _ := u.p.Segmentos.DeTipo(proceso.SegmentoHeap)
			frontera := u.p.Heap.Frontera()
			libresAntes.Store(int64(n.Fisica().Estadisticas().Libres))

			a.anotar("casi_2_64", uint64(u.Llamada(SysMalloc, 1<<64-8, 0, 0)))
			a.anotar("maximo", uint64(u.Llamada(SysMalloc, 1<<64-1, 0, 0)))
			// 4 MiB pide más marcos que los 512 de la máquina
			a.anotar("sin_marcos", u.Malloc(4<<20))

			despues, _ := u.p.Segmentos.DeTipo(proceso.SegmentoHeap)
			if despues.Fin() != antes.Fin() || u.p.Heap.Frontera() != frontera {
				a.anotar("heap_movido", 1)
			}
			libresDespues.Store(int64(n.Fisica().Estadisticas().Libres))
			// 1 MiB solo entra si los marcos del intento fallido volvieron
			a.anotar("despues", u.Malloc(1<<20))
		},
	})
	lanzar(t, n, "/bin/grande", "", 0)
	if err := correr(t, n); err != nil {
		t.Fatal(err)
	}

	for _, clave := range []string{"casi_2_64", "maximo", "sin_marcos"} {
		if a.valor(clave) != 0 {
			t.Errorf("%s = %#x, want 0", clave, a.valor(clave))
		}
	}
	if a.valor("heap_movido") != 0 {
		t.Error("un malloc fallido no debería mover el heap")
	}
	if a.valor("despues") == 0 {
		t.Error("malloc posterior al fallo debería funcionar")
	}
	// Solo pueden quedar tablas intermedias del intento fallido
	if libresAntes.Load()-libresDespues.Load() > 2 {
		t.Errorf("marcos libres: antes %d, después %d", libresAntes.Load(), libresDespues.Load())
	}
}

func TestListarProcesosMientrasCorren(t *testing.T) {
	n, _ := armarNucleo(t, configDePrueba(), map[string]Programa{
		"/bin/crece": func(u *Usuario) {
			for i := 0; i < 40; i++ {
				u.Malloc(3000)
				u.Ceder()
			}
		},
	})
	p := lanzar(t, n, "/bin/crece", "", 0)

	listo := make(chan struct{})
	var consultas atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-listo:
				return
			default:
			}
			res, err := n.Modulo().Despachar(&utils.Mensaje{Tipo: utils.MensajeListarProcesos})
			if err != nil {
				t.Error(err)
				return
			}
			for _, r := range res.(map[string]interface{})["procesos"].([]proceso.ResumenPCB) {
				if r.PID == p.PID && r.Programa != "/bin/crece" {
					t.Errorf("resumen = %+v", r)
				}
			}
			n.Modulo().Despachar(&utils.Mensaje{Tipo: utils.MensajeTraducir,
				Datos: map[string]interface{}{"pid": float64(p.PID), "va": float64(proceso.HeapBase + 16)}})
			consultas.Add(1)
		}
	}()

	err := correr(t, n)
	close(listo)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if consultas.Load() == 0 {
		t.Error("no se llegó a consultar la tabla")
	}
}
