package supervisor

import (
	"context"

	"github.com/thejerf/suture/v4"
)

type named struct {
	name string
	svc  suture.Service
}

// Named gives svc a stable name in supervisor events.
func Named(name string, svc suture.Service) suture.Service {
	return named{name: name, svc: svc}
}

func (n named) Serve(ctx context.Context) error { return n.svc.Serve(ctx) }
func (n named) String() string                  { return n.name }
