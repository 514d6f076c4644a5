package services

import "sync/atomic"

// Progress zählt den Fortschritt einer Batch-Operation. Die Zähler können
// ohne Lock aus einem anderen Goroutine gelesen werden. Ein nil-*Progress
// ist erlaubt und zählt nichts.
type Progress struct {
	total atomic.Int64
	done  atomic.Int64

	// OnStep wird nach jedem Element aufgerufen, im Goroutine der Batch-Schleife.
	OnStep func(done, total int64)
}

func (p *Progress) start(total int) {
	if p == nil {
		return
	}
	p.total.Store(int64(total))
	p.done.Store(0)
}

func (p *Progress) step() {
	if p == nil {
		return
	}
	done := p.done.Add(1)
	if p.OnStep != nil {
		p.OnStep(done, p.total.Load())
	}
}

// Snapshot liefert die bearbeiteten und die insgesamt erwarteten Elemente.
func (p *Progress) Snapshot() (done, total int64) {
	if p == nil {
		return 0, 0
	}
	return p.done.Load(), p.total.Load()
}
