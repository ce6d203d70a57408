package printing

import (
	"context"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
)

// Job is one document to print. Render is called once per target printer
// with that printer's line width.
type Job struct {
	Kind       string
	Ref        string
	KitchenRef string
	OpenDrawer bool
	Render     func(width int) []byte
}

func ReceiptJob(order domain.Order, tpl domain.PrintTemplate, openDrawer bool) Job {
	return Job{
		Kind:       domain.PrintKindReceipt,
		Ref:        order.ID,
		OpenDrawer: openDrawer,
		Render: func(width int) []byte {
			return RenderReceipt(order, tpl, width)
		},
	}
}

func KOTJob(ticket domain.KOT, tokenNum int, tpl domain.PrintTemplate) Job {
	return Job{
		Kind:       domain.PrintKindKOT,
		Ref:        ticket.ID,
		KitchenRef: ticket.KitchenRef,
		Render: func(width int) []byte {
			return RenderKOT(ticket, tokenNum, tpl, width)
		},
	}
}

// Request is the print:request payload for a job no configured printer took.
// The UI may print Data through its own channel.
type Request struct {
	Kind       string `json:"kind"`
	Ref        string `json:"ref"`
	KitchenRef string `json:"kitchen_ref,omitempty"`
	Data       []byte `json:"data"`
}

// Failure is the print:failed payload.
type Failure struct {
	PrinterID string `json:"printer_id"`
	Kind      string `json:"kind"`
	Ref       string `json:"ref"`
	Error     string `json:"error"`
}

type Result struct {
	Printed  int
	Failed   []Failure
	Requests []Request
}

type PrinterSource interface {
	ListPrinters(ctx context.Context) ([]domain.Printer, error)
}

type Dispatcher struct {
	printers  PrinterSource
	connector Connector
	bus       *eventbus.Bus
	log       logrus.FieldLogger
	limit     int
}

func NewDispatcher(printers PrinterSource, connector Connector, bus *eventbus.Bus, log logrus.FieldLogger) *Dispatcher {
	if connector == nil {
		connector = NewDeviceConnector()
	}
	return &Dispatcher{printers: printers, connector: connector, bus: bus, log: log, limit: 4}
}

// Accepts reports whether printer p should print job.
func Accepts(p domain.Printer, job Job) bool {
	if !p.Enabled {
		return false
	}
	switch job.Kind {
	case domain.PrintKindReceipt:
		return p.Receipt
	case domain.PrintKindKOT:
		if !p.KOT {
			return false
		}
		return len(p.KitchenRefs) == 0 || (job.KitchenRef != "" && slices.Contains(p.KitchenRefs, job.KitchenRef))
	default:
		return false
	}
}

// Dispatch prints every job on its printers. Failures are logged and reported
// on the bus, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []Job) Result {
	var res Result
	if len(jobs) == 0 {
		return res
	}

	printers, err := d.printers.ListPrinters(ctx)
	if err != nil {
		d.log.WithError(err).Warn("printer list unavailable, handing jobs to the ui")
		printers = nil
	}

	assigned := make(map[string][]Job)
	order := make([]domain.Printer, 0, len(printers))
	for _, job := range jobs {
		taken := false
		for _, p := range printers {
			if !Accepts(p, job) {
				continue
			}
			if _, seen := assigned[p.ID]; !seen {
				order = append(order, p)
			}
			assigned[p.ID] = append(assigned[p.ID], job)
			taken = true
		}
		if !taken {
			req := Request{Kind: job.Kind, Ref: job.Ref, KitchenRef: job.KitchenRef, Data: job.Render(32)}
			res.Requests = append(res.Requests, req)
			d.bus.Emit(eventbus.EventPrintRequest, req)
		}
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.limit)
	for _, p := range order {
		g.Go(func() error {
			printed, failures := d.printOn(ctx, p, assigned[p.ID])
			mu.Lock()
			res.Printed += printed
			res.Failed = append(res.Failed, failures...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range res.Failed {
		d.bus.Emit(eventbus.EventPrintFailed, f)
	}
	return res
}

func (d *Dispatcher) printOn(ctx context.Context, p domain.Printer, jobs []Job) (int, []Failure) {
	log := d.log.WithField("printer_id", p.ID)
	fail := func(job Job, err error) Failure {
		log.WithError(err).WithField("ref", job.Ref).Warn("print failed")
		return Failure{PrinterID: p.ID, Kind: job.Kind, Ref: job.Ref, Error: err.Error()}
	}

	h, err := d.connector.Connect(ctx, p)
	if err != nil {
		failures := make([]Failure, 0, len(jobs))
		for _, job := range jobs {
			failures = append(failures, fail(job, err))
		}
		return 0, failures
	}
	defer func() { _ = h.Close() }()

	printed := 0
	var failures []Failure
	for _, job := range jobs {
		if err := h.PrintRaw(ctx, job.Render(p.CharsPerLine)); err != nil {
			failures = append(failures, fail(job, err))
			continue
		}
		if err := h.Cut(ctx); err != nil {
			failures = append(failures, fail(job, err))
			continue
		}
		if job.OpenDrawer && p.OpenDrawer {
			if err := h.OpenCashDrawer(ctx); err != nil {
				log.WithError(err).Warn("cash drawer did not open")
			}
		}
		printed++
	}
	return printed, failures
}
