package nucleo

import (
	"strings"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
)

// Config define la configuración del núcleo
type Config struct {
	LogLevel              string   `json:"LOG_LEVEL"`
	IPKernel              string   `json:"IP_KERNEL"`
	PuertoKernel          int      `json:"PUERTO_KERNEL"`
	CantidadHarts         int      `json:"CANTIDAD_HARTS"`
	TamMemoria            int      `json:"TAM_MEMORIA"`
	CantidadProcesos      int      `json:"CANTIDAD_PROCESOS"`
	CantidadSemaforos     int      `json:"CANTIDAD_SEMAFOROS"`
	EntradasTLB           int      `json:"ENTRADAS_TLB"`
	ReemplazoTLB          string   `json:"REEMPLAZO_TLB"`
	IntervaloTimerMs      int      `json:"INTERVALO_TIMER_MS"`
	Preemptivo            bool     `json:"PREEMPTIVO"`
	RetardoCambioContexto int      `json:"RETARDO_CAMBIO_CONTEXTO"`
	DumpPath              string   `json:"DUMP_PATH"`
	RaizHostFS            string   `json:"RAIZ_HOSTFS,omitempty"`
	ProgramasIniciales    []string `json:"PROGRAMAS_INICIALES"`
}

// Normalizar completa los valores que quedaron en cero
func (c *Config) Normalizar() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.IPKernel == "" {
		c.IPKernel = "127.0.0.1"
	}
	if c.PuertoKernel == 0 {
		c.PuertoKernel = 8001
	}
	if c.CantidadHarts <= 0 {
		c.CantidadHarts = 2
	}
	if c.TamMemoria <= 0 {
		c.TamMemoria = 4 << 20
	}
	c.TamMemoria = int(memoria.RedondearAbajo(uint64(c.TamMemoria)))
	if c.CantidadProcesos <= 0 {
		c.CantidadProcesos = 32
	}
	if c.CantidadSemaforos <= 0 {
		c.CantidadSemaforos = 32
	}
	if c.EntradasTLB < 0 {
		c.EntradasTLB = 0
	}
	c.ReemplazoTLB = strings.ToUpper(c.ReemplazoTLB)
	if c.ReemplazoTLB != "LRU" {
		c.ReemplazoTLB = "FIFO"
	}
	if c.IntervaloTimerMs < 0 {
		c.IntervaloTimerMs = 0
	}
	if c.DumpPath == "" {
		c.DumpPath = "./dumps"
	}
}
