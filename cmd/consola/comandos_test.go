package main

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/LucasIBorrat/nucleo-pke/utils"
)

func TestInterpretar(t *testing.T) {
	tests := []struct {
		linea   string
		tipo    int
		datos   map[string]interface{}
		wantErr bool
	}{
		{linea: "ps", tipo: utils.MensajeListarProcesos},
		{linea: "  LIBRE ", tipo: utils.MensajeEspacioLibre},
		{linea: "sem", tipo: utils.MensajeSemaforos},
		{linea: "tr 3 0x400010", tipo: utils.MensajeTraducir, datos: map[string]interface{}{"pid": 3, "va": "0x400010"}},
		{linea: "dump 1", tipo: utils.MensajeMemoryDump, datos: map[string]interface{}{"pid": 1}},
		{linea: "tr 3", wantErr: true},
		{linea: "tr x 0x10", wantErr: true},
		{linea: "tr 1 zz", wantErr: true},
		{linea: "dump", wantErr: true},
		{linea: "formatear", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.linea, func(t *testing.T) {
			p, err := interpretar(tt.linea)
			if (err != nil) != tt.wantErr {
				t.Fatalf("interpretar(%q) error = %v, wantErr %v", tt.linea, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.tipo != tt.tipo {
				t.Errorf("tipo = %d, want %d", p.tipo, tt.tipo)
			}
			for k, v := range tt.datos {
				if p.datos[k] != v {
					t.Errorf("datos[%s] = %v, want %v", k, p.datos[k], v)
				}
			}
		})
	}
}

func TestInterpretarVaciaYSalir(t *testing.T) {
	if p, err := interpretar("   "); p != nil || err != nil {
		t.Errorf("línea vacía = %v, %v", p, err)
	}
	if _, err := interpretar("salir"); !errors.Is(err, errSalir) {
		t.Errorf("salir = %v", err)
	}
}

func TestEjecutarContraServidor(t *testing.T) {
	utils.InicializarLoggerEn(&strings.Builder{}, "error", "test")

	srv := utils.NewHTTPServer("127.0.0.1", 0, "Kernel")
	srv.RegisterHTTPHandler(utils.MensajeSemaforos, func(msg *utils.Mensaje) (interface{}, error) {
		return map[string]interface{}{"status": "OK", "origen": msg.Origen}, nil
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	host, puerto, _ := strings.Cut(strings.TrimPrefix(ts.URL, "http://"), ":")
	p, _ := strconv.Atoi(puerto)
	kernelClient = utils.NewHTTPClient(host, p, "Consola->Kernel")

	if err := conectarConReintentos(1); err != nil {
		t.Fatal(err)
	}
	ped, _ := interpretar("sem")
	respuesta, err := ejecutar(ped)
	if err != nil {
		t.Fatal(err)
	}
	if respuesta["status"] != "OK" || respuesta["origen"] != "Consola->Kernel" {
		b, _ := json.Marshal(respuesta)
		t.Errorf("respuesta = %s", b)
	}
}
