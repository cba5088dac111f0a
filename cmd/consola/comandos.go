package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/LucasIBorrat/nucleo-pke/utils"
)

var errSalir = errors.New("salir")

// pedido es un mensaje listo para enviar al núcleo
type pedido struct {
	tipo  int
	datos map[string]interface{}
}

const ayuda = `Comandos:
  ps                 procesos y colas de listos
  tr <pid> <va>      traduce una dirección virtual
  dump <pid>         memory dump y mapa de marcos
  libre              marcos libres y métricas
  sem                estado de los semáforos
  hs                 handshake
  salir`

// interpretar convierte una línea de la consola en un pedido
func interpretar(linea string) (*pedido, error) {
	campos := strings.Fields(linea)
	if len(campos) == 0 {
		return nil, nil
	}

	pidDe := func(i int) (int, error) {
		if len(campos) <= i {
			return 0, fmt.Errorf("%s: falta el pid", campos[0])
		}
		pid, err := strconv.Atoi(campos[i])
		if err != nil || pid < 0 {
			return 0, fmt.Errorf("%s: pid inválido %q", campos[0], campos[i])
		}
		return pid, nil
	}

	switch strings.ToLower(campos[0]) {
	case "ps":
		return &pedido{tipo: utils.MensajeListarProcesos}, nil
	case "tr":
		pid, err := pidDe(1)
		if err != nil {
			return nil, err
		}
		if len(campos) < 3 {
			return nil, errors.New("tr: falta la dirección virtual")
		}
		if _, err := strconv.ParseUint(campos[2], 0, 64); err != nil {
			return nil, fmt.Errorf("tr: dirección inválida %q", campos[2])
		}
		return &pedido{tipo: utils.MensajeTraducir, datos: map[string]interface{}{"pid": pid, "va": campos[2]}}, nil
	case "dump":
		pid, err := pidDe(1)
		if err != nil {
			return nil, err
		}
		return &pedido{tipo: utils.MensajeMemoryDump, datos: map[string]interface{}{"pid": pid}}, nil
	case "libre":
		return &pedido{tipo: utils.MensajeEspacioLibre}, nil
	case "sem":
		return &pedido{tipo: utils.MensajeSemaforos}, nil
	case "hs":
		return &pedido{tipo: utils.MensajeHandshake, datos: map[string]interface{}{"nombre": "Consola"}}, nil
	case "salir", "exit", "quit":
		return nil, errSalir
	}
	return nil, fmt.Errorf("comando desconocido %q", campos[0])
}

// ejecutar envía el pedido y devuelve la respuesta del núcleo
func ejecutar(p *pedido) (map[string]interface{}, error) {
	var respuesta map[string]interface{}
	if err := kernelClient.EnviarHTTPMensaje(p.tipo, "default", p.datos, &respuesta); err != nil {
		return nil, err
	}
	return respuesta, nil
}
