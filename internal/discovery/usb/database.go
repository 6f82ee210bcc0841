// internal/discovery/usb/database.go
package usb

import (
	"github.com/google/gousb"

	"actuator-hub/internal/device"
)

// ProfileDatabase maps USB vendor and product ids to device profiles
type ProfileDatabase struct {
	vendors map[gousb.ID]*VendorInfo
}

// VendorInfo holds the profiles known for one vendor id
type VendorInfo struct {
	products map[gousb.ID]*device.Profile
}

// NewProfileDatabase indexes every profile that declares USB ids
func NewProfileDatabase(profiles []*device.Profile) *ProfileDatabase {
	db := &ProfileDatabase{vendors: make(map[gousb.ID]*VendorInfo)}
	for _, p := range profiles {
		if p.Match.Virtual {
			continue
		}
		vendor, product, ok := p.USBIDs()
		if !ok {
			continue
		}
		db.AddProduct(gousb.ID(vendor), gousb.ID(product), p)
	}
	return db
}

// IsKnownVendor reports whether any profile uses vendorID
func (db *ProfileDatabase) IsKnownVendor(vendorID gousb.ID) bool {
	_, ok := db.vendors[vendorID]
	return ok
}

// Lookup returns the profile for a vendor and product pair
func (db *ProfileDatabase) Lookup(vendorID, productID gousb.ID) *device.Profile {
	vendor, ok := db.vendors[vendorID]
	if !ok {
		return nil
	}
	return vendor.products[productID]
}

// AddProduct registers profile. The first profile for a pair wins.
func (db *ProfileDatabase) AddProduct(vendorID, productID gousb.ID, profile *device.Profile) {
	vendor, ok := db.vendors[vendorID]
	if !ok {
		vendor = &VendorInfo{products: make(map[gousb.ID]*device.Profile)}
		db.vendors[vendorID] = vendor
	}
	if _, exists := vendor.products[productID]; !exists {
		vendor.products[productID] = profile
	}
}

// GetTotalProductCount returns the number of indexed id pairs
func (db *ProfileDatabase) GetTotalProductCount() int {
	count := 0
	for _, vendor := range db.vendors {
		count += len(vendor.products)
	}
	return count
}
