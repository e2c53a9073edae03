package auth

import "github.com/verdantlab/verdant-core/internal/kit"

// CanSubscribe reports whether the principal may subscribe to a kit's
// measurement stream.
//
// Subscription is open to anyone when the kit has a public dashboard.
// Otherwise only the kit's own device identity and linked members may
// subscribe. Every other case, including anonymous principals on private
// kits, is denied.
func CanSubscribe(p Principal, snap *kit.Snapshot) bool {
	if snap == nil || snap.Kit == nil {
		return false
	}
	if snap.Kit.PublicDashboard {
		return true
	}
	switch p.Kind {
	case KindDevice:
		return p.KitID == snap.Kit.ID
	case KindPerson:
		return snap.IsMember(p.UserID)
	default:
		return false
	}
}

// CanPublish reports whether the principal may publish measurements for a
// kit. Only the kit's own device identity may publish; people and anonymous
// principals never can, regardless of membership or dashboard visibility.
func CanPublish(p Principal, k *kit.Kit) bool {
	if k == nil {
		return false
	}
	return p.Kind == KindDevice && p.KitID == k.ID
}
