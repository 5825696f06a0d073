package executor

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/transfer"
)

// transferProgress emits throttled "<prefix><bytes>/<percent>%" events for
// one task. The first report always goes out; a zero interval lets every
// report through.
type transferProgress struct {
	env   *Env
	task  domain.Task
	total int64
	gate  *rate.Sometimes
}

func newTransferProgress(env *Env, t domain.Task, total int64) *transferProgress {
	gate := &rate.Sometimes{Interval: env.Settings.ProgressInterval}
	if env.Settings.ProgressInterval <= 0 {
		gate = &rate.Sometimes{Every: 1}
	}
	return &transferProgress{env: env, task: t, total: total, gate: gate}
}

// bytes reports done bytes of the planned total.
func (p *transferProgress) bytes(prefix string, done int64) {
	p.gate.Do(func() {
		percent := p.percent(done)
		msg := prefix + transfer.FormatBytes(done)
		if p.total > 0 {
			msg += fmt.Sprintf("/%d%%", int(percent))
		}
		p.env.progress(p.task, percent, msg)
	})
}

// percentOnly reports "<prefix><percent>%".
func (p *transferProgress) percentOnly(prefix string, done int64) {
	p.gate.Do(func() {
		percent := p.percent(done)
		p.env.progress(p.task, percent, fmt.Sprintf("%s%d%%", prefix, int(percent)))
	})
}

func (p *transferProgress) percent(done int64) float64 {
	if p.total <= 0 {
		return 0
	}
	v := float64(100*done) / float64(p.total)
	if v > 100 {
		v = 100
	}
	return v
}
