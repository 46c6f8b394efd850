package service

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/utils"
)

// Service is the payload of a service kernel object.
type Service struct {
	Name         string
	Owner        object.ID
	Channel      object.ID
	RegisteredAt time.Time

	// Object is the service's own kernel object, set once it is created.
	Object object.ID
}

// ObjectKind implements object.Payload.
func (*Service) ObjectKind() object.Kind { return object.KindService }

// Info is a read-only view for introspection.
type Info struct {
	Name         string    `json:"name"`
	Owner        string    `json:"owner"`
	Channel      string    `json:"channel"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (s *Service) info() Info {
	return Info{
		Name:         s.Name,
		Owner:        s.Owner.String(),
		Channel:      s.Channel.String(),
		RegisteredAt: s.RegisteredAt,
	}
}

// Registry maps names to services
type Registry struct {
	services sync.Map // name -> *Service
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// ValidateName checks a service name
func ValidateName(name string) error {
	if err := utils.ValidateServiceName(name); err != nil {
		return kerr.Newf("service_register", kerr.ErrInvalidArgument, "%v", err)
	}
	return nil
}

// Register binds svc.Name. It fails with ErrNameTaken while another
// registration holds the name.
func (r *Registry) Register(svc *Service) error {
	if err := ValidateName(svc.Name); err != nil {
		return err
	}
	if svc.RegisteredAt.IsZero() {
		svc.RegisteredAt = time.Now()
	}
	if _, loaded := r.services.LoadOrStore(svc.Name, svc); loaded {
		return kerr.Newf("service_register", kerr.ErrNameTaken, "%q", svc.Name)
	}
	return nil
}

// Lookup returns the service bound to name
func (r *Registry) Lookup(name string) (*Service, error) {
	val, ok := r.services.Load(name)
	if !ok {
		return nil, kerr.Newf("service_subscribe", kerr.ErrNotFound, "%q", name)
	}
	return val.(*Service), nil
}

// Unregister removes svc if it still holds its name
func (r *Registry) Unregister(svc *Service) bool {
	return r.services.CompareAndDelete(svc.Name, svc)
}

// UnregisterOwner removes every service registered by owner and returns them
func (r *Registry) UnregisterOwner(owner object.ID) []*Service {
	var removed []*Service
	r.services.Range(func(key, value interface{}) bool {
		svc := value.(*Service)
		if svc.Owner == owner && r.services.CompareAndDelete(key, svc) {
			removed = append(removed, svc)
		}
		return true
	})
	return removed
}

// List returns all registered services sorted by name
func (r *Registry) List() []Info {
	var out []Info
	r.services.Range(func(_, value interface{}) bool {
		out = append(out, value.(*Service).info())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Discover returns up to limit services whose name starts with prefix
func (r *Registry) Discover(prefix string, limit int) []Info {
	var out []Info
	for _, info := range r.List() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if strings.HasPrefix(info.Name, prefix) {
			out = append(out, info)
		}
	}
	return out
}

// Len returns the number of registered services
func (r *Registry) Len() int {
	n := 0
	r.services.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
