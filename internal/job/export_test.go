package job

import (
	"context"

	"go-config-runner/internal/parallel"
)

// EndDispatcher puts j in state s over a dispatcher that has already
// completed, as when a run ends right before a command reaches the job.
func EndDispatcher(j *Job, s State) {
	par := parallel.New(j.work(nil), parallel.Handlers[*item, Outcome]{})
	_ = par.Start(context.Background(), parallel.FromSlice[*item](nil), 1)
	<-par.Done()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	j.run = &run{par: par}
}
