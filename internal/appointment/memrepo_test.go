package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

// memRepository is an in-memory Repository. CreateAppointment enforces the
// active slot key under one mutex, the same guarantee the partial unique
// index gives in Postgres.
type memRepository struct {
	mu           sync.Mutex
	now          func() time.Time
	providers    map[uuid.UUID]Provider
	patients     map[uuid.UUID]Patient
	templates    map[uuid.UUID]map[schedule.Weekday]schedule.SlotList
	appointments map[uuid.UUID]Appointment
	events       []EventLog

	// beforeUpdate runs inside UpdateAppointment before the version check.
	beforeUpdate func(stored *Appointment)
}

func newMemRepository(now func() time.Time) *memRepository {
	return &memRepository{
		now:          now,
		providers:    make(map[uuid.UUID]Provider),
		patients:     make(map[uuid.UUID]Patient),
		templates:    make(map[uuid.UUID]map[schedule.Weekday]schedule.SlotList),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *memRepository) addProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

func (m *memRepository) addPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

// putAppointment stores a as-is, bypassing the slot key check.
func (m *memRepository) putAppointment(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Version == 0 {
		a.Version = 1
	}
	m.appointments[a.ID] = a
}

func (m *memRepository) eventTypes(appointmentID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
			out = append(out, ev.EventType)
		}
	}
	return out
}

func (m *memRepository) countEvents(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (m *memRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *memRepository) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (m *memRepository) GetWeeklySlots(_ context.Context, providerID uuid.UUID, day schedule.Weekday) (schedule.SlotList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(schedule.SlotList{}, m.templates[providerID][day]...), nil
}

func (m *memRepository) GetWeeklyTemplate(_ context.Context, providerID uuid.UUID) (schedule.WeeklyTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmpl := schedule.WeeklyTemplate{}
	for day, slots := range m.templates[providerID] {
		if len(slots) > 0 {
			tmpl[day] = append(schedule.SlotList{}, slots...)
		}
	}
	return tmpl, nil
}

func (m *memRepository) ReplaceWeeklySlots(_ context.Context, providerID uuid.UUID, day schedule.Weekday, slots schedule.SlotList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.templates[providerID] == nil {
		m.templates[providerID] = make(map[schedule.Weekday]schedule.SlotList)
	}
	m.templates[providerID][day] = append(schedule.SlotList{}, slots...)
	return nil
}

func (m *memRepository) ListHeldSlots(_ context.Context, providerID uuid.UUID, date time.Time) ([]schedule.SlotLabel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var held []schedule.SlotLabel
	for _, a := range m.appointments {
		if a.ProviderID == providerID && a.Date.Equal(date) && a.Status.HoldsSlot() {
			held = append(held, a.Time)
		}
	}
	return held, nil
}

func (m *memRepository) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appointments {
		if existing.ProviderID == a.ProviderID && existing.Date.Equal(a.Date) && existing.Time == a.Time && existing.Status.HoldsSlot() {
			return nil, ErrSlotTaken
		}
	}
	created := *a
	created.Version = 1
	created.CreatedAt = m.now()
	created.UpdatedAt = created.CreatedAt
	m.appointments[created.ID] = created
	return &created, nil
}

func (m *memRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memRepository) UpdateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(&stored)
		m.appointments[a.ID] = stored
	}
	if stored.Version != a.Version {
		return nil, ErrVersionConflict
	}
	updated := *a
	updated.Version = stored.Version + 1
	updated.UpdatedAt = m.now()
	m.appointments[a.ID] = updated
	return &updated, nil
}

func (m *memRepository) detail(a Appointment) AppointmentDetail {
	d := AppointmentDetail{Appointment: a}
	if p, ok := m.providers[a.ProviderID]; ok {
		d.Provider = &ProviderSummary{ID: p.ID, Name: p.Name, Specialty: p.Specialty}
	}
	if p, ok := m.patients[a.PatientID]; ok {
		d.Patient = &PatientSummary{ID: p.ID, Name: p.Name, Email: p.Email}
	}
	return d
}

func (m *memRepository) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	d := m.detail(a)
	return &d, nil
}

func (m *memRepository) ListAppointments(_ context.Context, actorID uuid.UUID, role Role, limit, offset int) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Appointment
	for _, a := range m.appointments {
		if (role == RolePatient && a.PatientID == actorID) || (role == RoleDoctor && a.ProviderID == actorID) {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.After(matched[j].Date)
		}
		return matched[i].Time > matched[j].Time
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]AppointmentDetail, 0, len(matched))
	for _, a := range matched {
		out = append(out, m.detail(a))
	}
	return out, nil
}

func (m *memRepository) FindStaleUnpaid(_ context.Context, createdBefore time.Time, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusScheduled && (a.PaymentStatus == PaymentPending || a.PaymentStatus == PaymentFailed) && a.CreatedAt.Before(createdBefore) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}
