package solver

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Partition assigns every student index to exactly one bus. Bus sizes never
// change after construction; Swap is the only mutation.
type Partition struct {
	Buses [][]int

	busOf    []int
	nonEmpty []int
}

func NewPartition(numStudents int, buses [][]int) (*Partition, error) {
	busOf := make([]int, numStudents)
	for i := range busOf {
		busOf[i] = -1
	}
	for b, bus := range buses {
		for _, s := range bus {
			if s < 0 || s >= numStudents {
				return nil, fmt.Errorf("%w: student %d out of range", ErrBadPartition, s)
			}
			if busOf[s] >= 0 {
				return nil, fmt.Errorf("%w: student %d in buses %d and %d", ErrBadPartition, s, busOf[s], b)
			}
			busOf[s] = b
		}
	}
	for s, b := range busOf {
		if b < 0 {
			return nil, fmt.Errorf("%w: student %d unassigned", ErrBadPartition, s)
		}
	}
	return newPartition(buses, busOf), nil
}

func newPartition(buses [][]int, busOf []int) *Partition {
	p := &Partition{Buses: buses, busOf: busOf}
	for b, bus := range buses {
		if len(bus) > 0 {
			p.nonEmpty = append(p.nonEmpty, b)
		}
	}
	return p
}

// BusOf returns the bus holding student s.
func (p *Partition) BusOf(s int) int { return p.busOf[s] }

func (p *Partition) Swap(b1, i1, b2, i2 int) {
	s1, s2 := p.Buses[b1][i1], p.Buses[b2][i2]
	p.Buses[b1][i1], p.Buses[b2][i2] = s2, s1
	p.busOf[s1], p.busOf[s2] = b2, b1
}

func (p *Partition) Clone() *Partition {
	buses := make([][]int, len(p.Buses))
	for b, bus := range p.Buses {
		buses[b] = slices.Clone(bus)
	}
	return &Partition{
		Buses:    buses,
		busOf:    slices.Clone(p.busOf),
		nonEmpty: slices.Clone(p.nonEmpty),
	}
}

// Key is a canonical form of the partition: two partitions that place the
// same students together share a key regardless of bus or seat order.
func (p *Partition) Key() string {
	var gs [][]int
	for _, bus := range p.Buses {
		if len(bus) == 0 {
			continue
		}
		members := slices.Clone(bus)
		slices.Sort(members)
		gs = append(gs, members)
	}
	slices.SortFunc(gs, func(a, b []int) int { return a[0] - b[0] })
	var buf strings.Builder
	for _, g := range gs {
		for i, m := range g {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Itoa(m))
		}
		buf.WriteByte(';')
	}
	return buf.String()
}
