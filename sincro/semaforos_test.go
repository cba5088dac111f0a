package sincro

import (
	"errors"
	"reflect"
	"testing"

	"github.com/LucasIBorrat/nucleo-pke/proceso"
)

func procesos(n int) []*proceso.PCB {
	ps := make([]*proceso.PCB, n)
	for i := range ps {
		ps[i] = &proceso.PCB{PID: i + 1}
		ps[i].CambiarEstado(proceso.EstadoRunning)
	}
	return ps
}

func TestNuevoAgotaElPool(t *testing.T) {
	s := Nuevos(2)
	for want := 0; want < 2; want++ {
		id, err := s.Nuevo(1)
		if err != nil || id != want {
			t.Fatalf("Nuevo = %d, %v; want %d", id, err, want)
		}
	}
	if _, err := s.Nuevo(0); !errors.Is(err, ErrSinSemaforos) {
		t.Errorf("esperaba ErrSinSemaforos, obtuve %v", err)
	}
}

func TestIDInvalido(t *testing.T) {
	s := Nuevos(2)
	s.Nuevo(0)
	ps := procesos(1)

	for _, id := range []int{-1, 1, 2} {
		if _, err := s.P(id, ps[0]); !errors.Is(err, ErrSemaforoInvalido) {
			t.Errorf("P(%d): %v", id, err)
		}
		if _, err := s.V(id); !errors.Is(err, ErrSemaforoInvalido) {
			t.Errorf("V(%d): %v", id, err)
		}
	}
}

func TestPV(t *testing.T) {
	tests := []struct {
		nombre     string
		inicial    int
		pes        int
		bloqueados int
	}{
		{"mutex libre", 1, 1, 0},
		{"mutex disputado", 1, 3, 2},
		{"cero", 0, 2, 2},
		{"contador", 3, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.nombre, func(t *testing.T) {
			s := Nuevos(1)
			id, _ := s.Nuevo(tt.inicial)
			ps := procesos(tt.pes)

			bloqueados := 0
			for _, p := range ps {
				b, err := s.P(id, p)
				if err != nil {
					t.Fatal(err)
				}
				if b {
					bloqueados++
					if p.Estado() != proceso.EstadoBlocked {
						t.Errorf("pid %d bloqueado con estado %s", p.PID, p.Estado())
					}
				}
			}
			if bloqueados != tt.bloqueados {
				t.Errorf("bloqueados = %d, want %d", bloqueados, tt.bloqueados)
			}
		})
	}
}

func TestDespertarFIFO(t *testing.T) {
	s := Nuevos(1)
	id, _ := s.Nuevo(0)
	ps := procesos(3)
	for _, p := range ps {
		s.P(id, p)
	}

	esperando, _ := s.Esperando(id)
	if !reflect.DeepEqual(esperando, []int{1, 2, 3}) {
		t.Fatalf("Esperando = %v", esperando)
	}

	for _, want := range ps {
		got, err := s.V(id)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("V despertó a %v, want %v", got, want)
		}
		if got.SiguienteEnCola != nil {
			t.Errorf("el proceso despertado sigue enlazado")
		}
	}
	if got, _ := s.V(id); got != nil {
		t.Errorf("V sin bloqueados despertó a %v", got)
	}

	res := s.Resumen()
	if len(res) != 1 || res[0].Valor != 1 || len(res[0].Bloqueados) != 0 {
		t.Errorf("Resumen = %+v", res)
	}
}
