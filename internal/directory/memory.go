package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/models"
)

type pairKey struct{ a, b uuid.UUID }

// Memory is an in-process Store used by tests and single-node setups.
// Put* methods seed rows; they are not part of Store.
type Memory struct {
	mu             sync.RWMutex
	superAdmins    map[uuid.UUID]bool
	orgs           map[uuid.UUID]models.Organization
	resourceTypes  map[uuid.UUID]models.ResourceType
	resources      map[uuid.UUID]models.Resource
	calendars      map[uuid.UUID]models.ReservationCalendar
	admins         map[pairKey]models.OrganizationAdmin      // (org, user)
	members        map[pairKey]models.OrganizationMembership // (org, user)
	calendarRoles  map[pairKey]models.ReservationCalendarRole // (calendar, user)
	resourceGrants map[pairKey]models.GranularPermission     // (user, resource type)
	calendarGrants map[pairKey]models.GranularPermission     // (user, calendar)
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		superAdmins:    make(map[uuid.UUID]bool),
		orgs:           make(map[uuid.UUID]models.Organization),
		resourceTypes:  make(map[uuid.UUID]models.ResourceType),
		resources:      make(map[uuid.UUID]models.Resource),
		calendars:      make(map[uuid.UUID]models.ReservationCalendar),
		admins:         make(map[pairKey]models.OrganizationAdmin),
		members:        make(map[pairKey]models.OrganizationMembership),
		calendarRoles:  make(map[pairKey]models.ReservationCalendarRole),
		resourceGrants: make(map[pairKey]models.GranularPermission),
		calendarGrants: make(map[pairKey]models.GranularPermission),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) SetSuperAdmin(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.superAdmins[userID] = true
}

func (m *Memory) PutOrganization(o models.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[o.ID] = o
}

func (m *Memory) PutResourceType(t models.ResourceType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceTypes[t.ID] = t
}

func (m *Memory) PutResource(r models.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

func (m *Memory) PutReservationCalendar(c models.ReservationCalendar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendars[c.ID] = c
}

func (m *Memory) PutMembership(orgID, userID uuid.UUID, role models.MembershipRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[pairKey{orgID, userID}] = models.OrganizationMembership{
		OrganizationID: orgID, UserID: userID, Role: role, CreatedAt: time.Now(),
	}
}

// PutOrganizationAdmin stores the admin row only; GrantOrganizationAdmin also materializes calendar roles.
func (m *Memory) PutOrganizationAdmin(orgID, userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[pairKey{orgID, userID}] = models.OrganizationAdmin{OrganizationID: orgID, UserID: userID, CreatedAt: time.Now()}
}

func (m *Memory) PutCalendarRole(role models.ReservationCalendarRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendarRoles[pairKey{role.ReservationCalendarID, role.UserID}] = role
}

func (m *Memory) PutResourceTypePermission(p models.GranularPermission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceGrants[pairKey{p.UserID, p.TargetID}] = p
}

func (m *Memory) PutCalendarPermission(p models.GranularPermission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendarGrants[pairKey{p.UserID, p.TargetID}] = p
}

func (m *Memory) IsSuperAdmin(_ context.Context, userID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.superAdmins[userID], nil
}

func (m *Memory) GetOrganization(_ context.Context, id uuid.UUID) (*models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *Memory) GetResourceType(_ context.Context, id uuid.UUID) (*models.ResourceType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.resourceTypes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *Memory) GetResource(_ context.Context, id uuid.UUID) (*models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) GetResourceByToken(_ context.Context, token string) (*models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.resources {
		if r.PublicBookingToken != nil && *r.PublicBookingToken == token {
			r := r
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetReservationCalendar(_ context.Context, id uuid.UUID) (*models.ReservationCalendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calendars[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) IsOrganizationAdmin(_ context.Context, orgID, userID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.admins[pairKey{orgID, userID}]
	return ok, nil
}

func (m *Memory) IsOrganizationMember(_ context.Context, orgID, userID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[pairKey{orgID, userID}]
	return ok, nil
}

func (m *Memory) GetCalendarRole(_ context.Context, calendarID, userID uuid.UUID) (*models.ReservationCalendarRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.calendarRoles[pairKey{calendarID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &role, nil
}

func (m *Memory) GetResourceTypePermission(_ context.Context, orgID, userID, resourceTypeID uuid.UUID) (*models.GranularPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.resourceGrants[pairKey{userID, resourceTypeID}]
	if !ok || p.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) GetCalendarPermission(_ context.Context, orgID, userID, calendarID uuid.UUID) (*models.GranularPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.calendarGrants[pairKey{userID, calendarID}]
	if !ok || p.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return &p, nil
}

func sortOrganizations(list []models.Organization) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

func sortCalendars(list []models.ReservationCalendar) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

func (m *Memory) ListOrganizations(_ context.Context) ([]models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]models.Organization, 0, len(m.orgs))
	for _, o := range m.orgs {
		list = append(list, o)
	}
	sortOrganizations(list)
	return list, nil
}

func (m *Memory) GetOrganizationsByIDs(_ context.Context, ids []uuid.UUID) ([]models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]bool, len(ids))
	var list []models.Organization
	for _, id := range ids {
		if o, ok := m.orgs[id]; ok && !seen[id] {
			seen[id] = true
			list = append(list, o)
		}
	}
	sortOrganizations(list)
	return list, nil
}

func (m *Memory) ListReservationCalendars(_ context.Context) ([]models.ReservationCalendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]models.ReservationCalendar, 0, len(m.calendars))
	for _, c := range m.calendars {
		list = append(list, c)
	}
	sortCalendars(list)
	return list, nil
}

func (m *Memory) GetReservationCalendarsByIDs(_ context.Context, ids []uuid.UUID) ([]models.ReservationCalendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]bool, len(ids))
	var list []models.ReservationCalendar
	for _, id := range ids {
		if c, ok := m.calendars[id]; ok && !seen[id] {
			seen[id] = true
			list = append(list, c)
		}
	}
	sortCalendars(list)
	return list, nil
}

func (m *Memory) ListReservationCalendarsByOrganizations(_ context.Context, orgIDs []uuid.UUID) ([]models.ReservationCalendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(orgIDs))
	for _, id := range orgIDs {
		want[id] = true
	}
	var list []models.ReservationCalendar
	for _, c := range m.calendars {
		if want[c.OrganizationID] {
			list = append(list, c)
		}
	}
	sortCalendars(list)
	return list, nil
}

func (m *Memory) ListAdminOrganizationIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uuid.UUID
	for k := range m.admins {
		if k.b == userID {
			ids = append(ids, k.a)
		}
	}
	return ids, nil
}

func (m *Memory) ListMemberOrganizationIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uuid.UUID
	for k := range m.members {
		if k.b == userID {
			ids = append(ids, k.a)
		}
	}
	return ids, nil
}

func (m *Memory) ListCalendarRolesForUser(_ context.Context, userID uuid.UUID) ([]models.ReservationCalendarRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.ReservationCalendarRole
	for k, role := range m.calendarRoles {
		if k.b == userID {
			list = append(list, role)
		}
	}
	return list, nil
}

func (m *Memory) ListResourceTypePermissionsForUser(_ context.Context, userID uuid.UUID) ([]models.GranularPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.GranularPermission
	for k, p := range m.resourceGrants {
		if k.a == userID {
			list = append(list, p)
		}
	}
	return list, nil
}

func (m *Memory) ListCalendarPermissionsForUser(_ context.Context, userID uuid.UUID) ([]models.GranularPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.GranularPermission
	for k, p := range m.calendarGrants {
		if k.a == userID {
			list = append(list, p)
		}
	}
	return list, nil
}

// GrantOrganizationAdmin stores the admin row and an auto-assigned EDITOR role on every
// calendar of the organization that has no role row for the user yet.
func (m *Memory) GrantOrganizationAdmin(_ context.Context, orgID, userID, grantedBy uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[orgID]; !ok {
		return 0, ErrNotFound
	}
	now := time.Now()
	by := grantedBy
	m.admins[pairKey{orgID, userID}] = models.OrganizationAdmin{OrganizationID: orgID, UserID: userID, GrantedBy: &by, CreatedAt: now}
	added := 0
	for _, c := range m.calendars {
		if c.OrganizationID != orgID {
			continue
		}
		key := pairKey{c.ID, userID}
		if _, exists := m.calendarRoles[key]; exists {
			continue
		}
		m.calendarRoles[key] = models.ReservationCalendarRole{
			ReservationCalendarID: c.ID, UserID: userID, Role: models.CalendarRoleEditor,
			IsAutoAssignedFromOrgAdmin: true, AssignedBy: &by, CreatedAt: now,
		}
		added++
	}
	return added, nil
}

// RevokeOrganizationAdmin removes the admin row and the auto-assigned calendar roles it produced.
func (m *Memory) RevokeOrganizationAdmin(_ context.Context, orgID, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{orgID, userID}
	if _, ok := m.admins[key]; !ok {
		return 0, ErrNotFound
	}
	delete(m.admins, key)
	removed := 0
	for k, role := range m.calendarRoles {
		if k.b != userID || !role.IsAutoAssignedFromOrgAdmin {
			continue
		}
		if c, ok := m.calendars[k.a]; ok && c.OrganizationID == orgID {
			delete(m.calendarRoles, k)
			removed++
		}
	}
	return removed, nil
}

// SyncCalendarAdmins materializes auto-assigned EDITOR roles on calendarID for every admin
// of its organization and returns the users that received one.
func (m *Memory) SyncCalendarAdmins(_ context.Context, calendarID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calendars[calendarID]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now()
	var added []uuid.UUID
	for k := range m.admins {
		if k.a != c.OrganizationID {
			continue
		}
		key := pairKey{calendarID, k.b}
		if _, exists := m.calendarRoles[key]; exists {
			continue
		}
		m.calendarRoles[key] = models.ReservationCalendarRole{
			ReservationCalendarID: calendarID, UserID: k.b, Role: models.CalendarRoleEditor,
			IsAutoAssignedFromOrgAdmin: true, CreatedAt: now,
		}
		added = append(added, k.b)
	}
	return added, nil
}

// UpsertCalendarRole stores an explicit role row, replacing an existing explicit one.
func (m *Memory) UpsertCalendarRole(_ context.Context, role models.ReservationCalendarRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calendars[role.ReservationCalendarID]; !ok {
		return ErrNotFound
	}
	if cur, ok := m.calendarRoles[pairKey{role.ReservationCalendarID, role.UserID}]; ok && cur.IsAutoAssignedFromOrgAdmin {
		return ErrAutoAssigned
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	m.calendarRoles[pairKey{role.ReservationCalendarID, role.UserID}] = role
	return nil
}

func (m *Memory) DeleteCalendarRole(_ context.Context, calendarID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{calendarID, userID}
	if _, ok := m.calendarRoles[key]; !ok {
		return ErrNotFound
	}
	delete(m.calendarRoles, key)
	return nil
}

func (m *Memory) SetPublicBooking(_ context.Context, resourceID uuid.UUID, token *string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resourceID]
	if !ok {
		return ErrNotFound
	}
	if token != nil {
		t := *token
		r.PublicBookingToken = &t
	}
	r.PublicBookingEnabled = enabled
	r.UpdatedAt = time.Now()
	m.resources[resourceID] = r
	return nil
}
