package nucleo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/proceso"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// registrarHandlers registra los manejadores del bus de inspección
func (n *Nucleo) registrarHandlers() {
	n.modulo.RegistrarHandler(utils.MensajeHandshake, "default", n.handlerHandshake)
	n.modulo.RegistrarHandler(utils.MensajeListarProcesos, "default", n.handlerListarProcesos)
	n.modulo.RegistrarHandler(utils.MensajeTraducir, "default", n.handlerTraducir)
	n.modulo.RegistrarHandler(utils.MensajeMemoryDump, "default", n.handlerMemoryDump)
	n.modulo.RegistrarHandler(utils.MensajeEspacioLibre, "default", n.handlerEspacioLibre)
	n.modulo.RegistrarHandler(utils.MensajeSemaforos, "default", n.handlerSemaforos)
}

func (n *Nucleo) handlerHandshake(msg *utils.Mensaje) (interface{}, error) {
	utils.InfoLog.Info("Handshake recibido", "origen", msg.Origen)
	return map[string]interface{}{
		"status":    "OK",
		"modulo":    "Kernel",
		"harts":     n.cfg.CantidadHarts,
		"programas": n.registro.Rutas(),
	}, nil
}

func (n *Nucleo) handlerListarProcesos(msg *utils.Mensaje) (interface{}, error) {
	var procesos []proceso.ResumenPCB
	for _, p := range n.tabla.Todos() {
		if p.Estado() != proceso.EstadoFree {
			procesos = append(procesos, p.Resumen())
		}
	}
	listos := make(map[string][]int)
	for _, h := range n.plan.Harts() {
		listos[strconv.Itoa(h.ID)] = h.Listos()
	}
	return map[string]interface{}{
		"status":   "OK",
		"procesos": procesos,
		"listos":   listos,
	}, nil
}

// extraerDireccion acepta la dirección como número o como texto ("0x400010")
func extraerDireccion(msg *utils.Mensaje, clave string) (uint64, error) {
	if texto := utils.ExtraerTexto(msg, clave, ""); texto != "" {
		return strconv.ParseUint(strings.TrimSpace(texto), 0, 64)
	}
	v, err := utils.ExtraerEntero(msg, clave)
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

// procesoDelMensaje devuelve el proceso pedido y su tabla de páginas vigente
func (n *Nucleo) procesoDelMensaje(msg *utils.Mensaje) (*proceso.PCB, *memoria.TablaPaginas, error) {
	pid, err := utils.ExtraerEntero(msg, "pid")
	if err != nil {
		return nil, nil, err
	}
	p, err := n.tabla.Buscar(pid)
	if err != nil {
		return nil, nil, err
	}
	tabla := p.TablaActual()
	if tabla == nil {
		return nil, nil, fmt.Errorf("pid %d sin espacio de direcciones", pid)
	}
	return p, tabla, nil
}

func (n *Nucleo) handlerTraducir(msg *utils.Mensaje) (interface{}, error) {
	p, tabla, err := n.procesoDelMensaje(msg)
	if err != nil {
		return nil, err
	}
	va, err := extraerDireccion(msg, "va")
	if err != nil {
		return nil, err
	}

	pte, err := tabla.Buscar(va)
	if err != nil {
		return map[string]interface{}{"status": "ERROR", "error": err.Error()}, nil
	}
	pa := pte.Fisica() | (va & (memoria.TamPagina - 1))
	segmento := ""
	if seg, ok := p.Segmentos.Buscar(va); ok {
		segmento = seg.Tipo.String()
	}

	utils.InfoLog.Info("Traducción consultada", "pid", p.PID, "va", fmt.Sprintf("%#x", va), "pa", fmt.Sprintf("%#x", pa))
	return map[string]interface{}{
		"status":      "OK",
		"pa":          fmt.Sprintf("%#x", pa),
		"pte":         pte.String(),
		"segmento":    segmento,
		"referencias": n.fisica.Referencias(pte.Fisica()),
	}, nil
}

func (n *Nucleo) handlerMemoryDump(msg *utils.Mensaje) (interface{}, error) {
	p, tabla, err := n.procesoDelMensaje(msg)
	if err != nil {
		return nil, err
	}

	ruta, err := memoria.CrearDump(n.cfg.DumpPath, p.PID, tabla)
	if err != nil {
		utils.ErrorLog.Error("Error creando memory dump", "pid", p.PID, "error", err)
		return nil, err
	}
	mapa := strings.TrimSuffix(ruta, ".dmp") + ".png"
	if err := memoria.GenerarMapaMarcos(mapa, n.fisica); err != nil {
		utils.ErrorLog.Error("Error generando mapa de marcos", "error", err)
		mapa = ""
	}

	return map[string]interface{}{
		"status":  "OK",
		"archivo": ruta,
		"mapa":    mapa,
	}, nil
}

func (n *Nucleo) handlerEspacioLibre(msg *utils.Mensaje) (interface{}, error) {
	est := n.fisica.Estadisticas()
	utils.InfoLog.Info("Espacio libre consultado", "marcos_libres", est.Libres)
	return map[string]interface{}{
		"status":        "OK",
		"espacio_libre": est.Libres * memoria.TamPagina,
		"marcos":        est,
		"metricas":      n.fisica.Metricas().Resumen(),
	}, nil
}

func (n *Nucleo) handlerSemaforos(msg *utils.Mensaje) (interface{}, error) {
	return map[string]interface{}{
		"status":    "OK",
		"semaforos": n.sems.Resumen(),
	}, nil
}
