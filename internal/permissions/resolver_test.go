package permissions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Csepi/cal3-sub003/internal/directory"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

type fixture struct {
	store    *directory.Memory
	resolver *Resolver
	org      models.Organization
	rt       models.ResourceType
	res      models.Resource
	cal      models.ReservationCalendar
}

func newFixture(t *testing.T, granularResources, granularCalendars bool) *fixture {
	t.Helper()
	store := directory.NewMemory()
	f := &fixture{store: store, resolver: NewResolver(store, nil, nil)}
	f.org = models.Organization{ID: uuid.New(), Name: "Acme",
		GranularResourcePermissions: granularResources, GranularCalendarPermissions: granularCalendars}
	f.rt = models.ResourceType{ID: uuid.New(), OrganizationID: f.org.ID, Name: "Rooms"}
	f.res = models.Resource{ID: uuid.New(), ResourceTypeID: f.rt.ID, Name: "Room 1", Capacity: 3, IsActive: true}
	f.cal = models.ReservationCalendar{ID: uuid.New(), OrganizationID: f.org.ID, Name: "Front desk"}
	store.PutOrganization(f.org)
	store.PutResourceType(f.rt)
	store.PutResource(f.res)
	store.PutReservationCalendar(f.cal)
	return f
}

func (f *fixture) targets() []Target {
	return []Target{Organization(f.org.ID), ResourceType(f.rt.ID), Resource(f.res.ID), Calendar(f.cal.ID)}
}

func (f *fixture) resolve(t *testing.T, user uuid.UUID, target Target) Decision {
	t.Helper()
	d, err := f.resolver.Evaluate(context.Background(), user, target)
	require.NoError(t, err)
	return d
}

func TestSuperAdminIsAdminEverywhere(t *testing.T) {
	f := newFixture(t, true, true)
	user := uuid.New()
	f.store.SetSuperAdmin(user)

	for _, target := range f.targets() {
		d := f.resolve(t, user, target)
		assert.Equal(t, Admin, d.Level, target.String())
		assert.Equal(t, RuleSuperAdmin, d.Rule)
	}
}

func TestOrganizationAdminReach(t *testing.T) {
	f := newFixture(t, true, true)
	user := uuid.New()
	f.store.PutOrganizationAdmin(f.org.ID, user)

	assert.Equal(t, Admin, f.resolve(t, user, Organization(f.org.ID)).Level)
	assert.Equal(t, Admin, f.resolve(t, user, ResourceType(f.rt.ID)).Level)
	assert.Equal(t, Admin, f.resolve(t, user, Resource(f.res.ID)).Level)

	d := f.resolve(t, user, Calendar(f.cal.ID))
	assert.Equal(t, Edit, d.Level)
	assert.True(t, d.CanReview)
	assert.Equal(t, RuleOrganizationAdmin, d.Rule)
}

func TestOrganizationAdminGetsEditOnNewCalendarWithoutRoleRows(t *testing.T) {
	f := newFixture(t, false, true)
	user := uuid.New()
	f.store.PutOrganizationAdmin(f.org.ID, user)

	fresh := models.ReservationCalendar{ID: uuid.New(), OrganizationID: f.org.ID, Name: "Created later"}
	f.store.PutReservationCalendar(fresh)

	_, err := f.store.GetCalendarRole(context.Background(), fresh.ID, user)
	require.ErrorIs(t, err, directory.ErrNotFound)
	assert.Equal(t, Edit, f.resolve(t, user, Calendar(fresh.ID)).Level)
}

func TestCalendarRoles(t *testing.T) {
	f := newFixture(t, false, false)
	editor, reviewer := uuid.New(), uuid.New()
	f.store.PutCalendarRole(models.ReservationCalendarRole{ReservationCalendarID: f.cal.ID, UserID: editor, Role: models.CalendarRoleEditor})
	f.store.PutCalendarRole(models.ReservationCalendarRole{ReservationCalendarID: f.cal.ID, UserID: reviewer, Role: models.CalendarRoleReviewer})

	d := f.resolve(t, editor, Calendar(f.cal.ID))
	assert.Equal(t, Edit, d.Level)
	assert.True(t, d.CanReview)

	d = f.resolve(t, reviewer, Calendar(f.cal.ID))
	assert.Equal(t, View, d.Level)
	assert.True(t, d.CanReview)
	assert.Equal(t, RuleCalendarRole, d.Rule)
}

func TestGranularCalendarDenyByDefaultDespiteMembership(t *testing.T) {
	f := newFixture(t, false, true)
	member := uuid.New()
	f.store.PutMembership(f.org.ID, member, models.MembershipMember)

	d := f.resolve(t, member, Calendar(f.cal.ID))
	assert.Equal(t, None, d.Level)
	assert.Equal(t, RuleGranular, d.Rule)

	// Membership still grants view on non-calendar targets while the resource flag is off.
	assert.Equal(t, View, f.resolve(t, member, ResourceType(f.rt.ID)).Level)
}

func TestGranularResourceGrants(t *testing.T) {
	f := newFixture(t, true, false)
	viewer, editor, member := uuid.New(), uuid.New(), uuid.New()
	f.store.PutMembership(f.org.ID, member, models.MembershipMember)
	f.store.PutResourceTypePermission(models.GranularPermission{OrganizationID: f.org.ID, UserID: viewer, TargetID: f.rt.ID, CanView: true})
	// canEdit without canView still reads as view + edit.
	f.store.PutResourceTypePermission(models.GranularPermission{OrganizationID: f.org.ID, UserID: editor, TargetID: f.rt.ID, CanEdit: true})

	assert.Equal(t, View, f.resolve(t, viewer, ResourceType(f.rt.ID)).Level)
	assert.Equal(t, View, f.resolve(t, viewer, Resource(f.res.ID)).Level)
	assert.Equal(t, Edit, f.resolve(t, editor, Resource(f.res.ID)).Level)
	assert.Equal(t, None, f.resolve(t, member, Resource(f.res.ID)).Level)
}

func TestMembershipNeverReachesCalendars(t *testing.T) {
	f := newFixture(t, false, false)
	member := uuid.New()
	f.store.PutMembership(f.org.ID, member, models.MembershipAdmin)

	assert.Equal(t, View, f.resolve(t, member, Organization(f.org.ID)).Level)
	assert.Equal(t, View, f.resolve(t, member, Resource(f.res.ID)).Level)
	assert.Equal(t, None, f.resolve(t, member, Calendar(f.cal.ID)).Level)
}

func TestStrangerGetsNone(t *testing.T) {
	f := newFixture(t, false, false)
	for _, target := range f.targets() {
		d := f.resolve(t, uuid.New(), target)
		assert.Equal(t, None, d.Level, target.String())
	}
}

func TestMissingTargetIsNotFound(t *testing.T) {
	f := newFixture(t, false, false)
	for _, target := range []Target{Organization(uuid.New()), ResourceType(uuid.New()), Resource(uuid.New()), Calendar(uuid.New())} {
		_, err := f.resolver.Resolve(context.Background(), uuid.New(), target)
		require.Error(t, err, target.String())
		assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	}
}

// Granting org admin never lowers the level on any target of the organization,
// whatever the user held before.
func TestOrganizationAdminGrantIsMonotonic(t *testing.T) {
	seeds := map[string]func(f *fixture, user uuid.UUID){
		"nothing": func(*fixture, uuid.UUID) {},
		"member": func(f *fixture, u uuid.UUID) {
			f.store.PutMembership(f.org.ID, u, models.MembershipMember)
		},
		"reviewer": func(f *fixture, u uuid.UUID) {
			f.store.PutCalendarRole(models.ReservationCalendarRole{ReservationCalendarID: f.cal.ID, UserID: u, Role: models.CalendarRoleReviewer})
		},
		"editor": func(f *fixture, u uuid.UUID) {
			f.store.PutCalendarRole(models.ReservationCalendarRole{ReservationCalendarID: f.cal.ID, UserID: u, Role: models.CalendarRoleEditor})
		},
		"granular edit": func(f *fixture, u uuid.UUID) {
			f.store.PutResourceTypePermission(models.GranularPermission{OrganizationID: f.org.ID, UserID: u, TargetID: f.rt.ID, CanEdit: true})
			f.store.PutCalendarPermission(models.GranularPermission{OrganizationID: f.org.ID, UserID: u, TargetID: f.cal.ID, CanEdit: true})
		},
	}
	for _, flags := range [][2]bool{{false, false}, {true, false}, {false, true}, {true, true}} {
		for name, seed := range seeds {
			f := newFixture(t, flags[0], flags[1])
			user := uuid.New()
			seed(f, user)

			before := make(map[Target]AccessLevel)
			for _, target := range f.targets() {
				before[target] = f.resolve(t, user, target).Level
			}
			f.store.PutOrganizationAdmin(f.org.ID, user)
			for _, target := range f.targets() {
				after := f.resolve(t, user, target).Level
				assert.GreaterOrEqual(t, int(after), int(before[target]), "%s %v %s", name, flags, target)
				assert.GreaterOrEqual(t, int(after), int(Edit), "%s %v %s", name, flags, target)
			}
		}
	}
}

func TestParseTargetAndLevel(t *testing.T) {
	id := uuid.New()
	target, err := ParseTarget("Resource_Type", id.String())
	require.NoError(t, err)
	assert.Equal(t, ResourceType(id), target)

	_, err = ParseTarget("venue", id.String())
	assert.Error(t, err)
	_, err = ParseTarget("calendar", "nope")
	assert.Error(t, err)

	lvl, err := ParseAccessLevel("edit")
	require.NoError(t, err)
	assert.Equal(t, Edit, lvl)
	assert.True(t, Admin.AtLeast(View))
	assert.False(t, View.AtLeast(Edit))
}
