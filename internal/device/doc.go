// Package device keeps the inventory of Device Portal targets.
//
// Each Device records where a Portal lives, which account to use, and what
// the last connect learned: platform, OS version, HTTPS requirement and the
// pinned root certificate. A later session seeds its descriptor from this so
// the bootstrap download is skipped.
//
// # Usage
//
//	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev, err := registry.Resolve(ctx, "lab-pi-7")
//	desc, cert, err := dev.Descriptor(password)
//
// Passwords are never persisted.
package device
