package permissions

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Csepi/cal3-sub003/internal/models"
)

// grantReach is everything a non-super-admin user's grants point at.
type grantReach struct {
	adminOrgs      []uuid.UUID
	memberOrgs     []uuid.UUID
	calendarRoles  []models.ReservationCalendarRole
	resourceGrants []models.GranularPermission
	calendarGrants []models.GranularPermission
}

func (r *Resolver) loadReach(ctx context.Context, userID uuid.UUID, withMembership, withResourceGrants bool) (*grantReach, error) {
	var reach grantReach
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		reach.adminOrgs, err = r.store.ListAdminOrganizationIDs(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		reach.calendarRoles, err = r.store.ListCalendarRolesForUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		reach.calendarGrants, err = r.store.ListCalendarPermissionsForUser(gctx, userID)
		return err
	})
	if withMembership {
		g.Go(func() (err error) {
			reach.memberOrgs, err = r.store.ListMemberOrganizationIDs(gctx, userID)
			return err
		})
	}
	if withResourceGrants {
		g.Go(func() (err error) {
			reach.resourceGrants, err = r.store.ListResourceTypePermissionsForUser(gctx, userID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return &reach, nil
}

// AccessibleOrganizations lists the organizations the user can see: administered,
// joined, reached through a calendar role, or reached through a view grant in an
// organization whose matching granular flag is on. Sorted by name.
func (r *Resolver) AccessibleOrganizations(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	super, err := r.store.IsSuperAdmin(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check super admin: %w", err)
	}
	if super {
		return r.store.ListOrganizations(ctx)
	}

	reach, err := r.loadReach(ctx, userID, true, true)
	if err != nil {
		return nil, err
	}

	direct := make(map[uuid.UUID]bool)
	for _, id := range reach.adminOrgs {
		direct[id] = true
	}
	for _, id := range reach.memberOrgs {
		direct[id] = true
	}
	if len(reach.calendarRoles) > 0 {
		ids := make([]uuid.UUID, 0, len(reach.calendarRoles))
		for _, role := range reach.calendarRoles {
			ids = append(ids, role.ReservationCalendarID)
		}
		cals, err := r.store.GetReservationCalendarsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load role calendars: %w", err)
		}
		for _, c := range cals {
			direct[c.OrganizationID] = true
		}
	}

	viaResource := make(map[uuid.UUID]bool)
	for _, p := range reach.resourceGrants {
		if p.EffectiveView() {
			viaResource[p.OrganizationID] = true
		}
	}
	viaCalendar := make(map[uuid.UUID]bool)
	for _, p := range reach.calendarGrants {
		if p.EffectiveView() {
			viaCalendar[p.OrganizationID] = true
		}
	}

	candidates := make([]uuid.UUID, 0, len(direct)+len(viaResource)+len(viaCalendar))
	for _, set := range []map[uuid.UUID]bool{direct, viaResource, viaCalendar} {
		for id := range set {
			candidates = append(candidates, id)
		}
	}
	orgs, err := r.store.GetOrganizationsByIDs(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("load organizations: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(orgs))
	out := make([]models.Organization, 0, len(orgs))
	for _, o := range orgs {
		if seen[o.ID] {
			continue
		}
		if direct[o.ID] ||
			(viaResource[o.ID] && o.GranularResourcePermissions) ||
			(viaCalendar[o.ID] && o.GranularCalendarPermissions) {
			seen[o.ID] = true
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return lessByName(out[i].Name, out[j].Name, out[i].ID, out[j].ID) })
	return out, nil
}

// AccessibleReservationCalendars lists the reservation calendars the user can see:
// every calendar of an administered organization, calendars with a role row, and
// calendars with a view grant in an organization with granular calendar permissions.
// Plain membership never reaches a calendar. Sorted by name.
func (r *Resolver) AccessibleReservationCalendars(ctx context.Context, userID uuid.UUID) ([]models.ReservationCalendar, error) {
	super, err := r.store.IsSuperAdmin(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check super admin: %w", err)
	}
	if super {
		return r.store.ListReservationCalendars(ctx)
	}

	reach, err := r.loadReach(ctx, userID, false, false)
	if err != nil {
		return nil, err
	}

	grantOrgs := make([]uuid.UUID, 0, len(reach.calendarGrants))
	grantCals := make(map[uuid.UUID]uuid.UUID, len(reach.calendarGrants)) // calendar -> org
	for _, p := range reach.calendarGrants {
		if p.EffectiveView() {
			grantOrgs = append(grantOrgs, p.OrganizationID)
			grantCals[p.TargetID] = p.OrganizationID
		}
	}
	roleIDs := make([]uuid.UUID, 0, len(reach.calendarRoles))
	for _, role := range reach.calendarRoles {
		roleIDs = append(roleIDs, role.ReservationCalendarID)
	}
	grantIDs := make([]uuid.UUID, 0, len(grantCals))
	for id := range grantCals {
		grantIDs = append(grantIDs, id)
	}

	var (
		adminCals, roleCals, grantedCals []models.ReservationCalendar
		flagged                          []models.Organization
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		adminCals, err = r.store.ListReservationCalendarsByOrganizations(gctx, reach.adminOrgs)
		return err
	})
	g.Go(func() (err error) {
		roleCals, err = r.store.GetReservationCalendarsByIDs(gctx, roleIDs)
		return err
	})
	g.Go(func() (err error) {
		grantedCals, err = r.store.GetReservationCalendarsByIDs(gctx, grantIDs)
		return err
	})
	g.Go(func() (err error) {
		flagged, err = r.store.GetOrganizationsByIDs(gctx, grantOrgs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load calendars: %w", err)
	}

	granularOn := make(map[uuid.UUID]bool, len(flagged))
	for _, o := range flagged {
		granularOn[o.ID] = o.GranularCalendarPermissions
	}

	seen := make(map[uuid.UUID]bool)
	out := make([]models.ReservationCalendar, 0)
	add := func(c models.ReservationCalendar) {
		if !seen[c.ID] {
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	for _, c := range adminCals {
		add(c)
	}
	for _, c := range roleCals {
		add(c)
	}
	for _, c := range grantedCals {
		if granularOn[c.OrganizationID] && grantCals[c.ID] == c.OrganizationID {
			add(c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return lessByName(out[i].Name, out[j].Name, out[i].ID, out[j].ID) })
	return out, nil
}

func lessByName(a, b string, idA, idB uuid.UUID) bool {
	if a != b {
		return a < b
	}
	return idA.String() < idB.String()
}
