// Package seed loads the default shop catalog and a small demo dataset.
// Both are safe to run repeatedly: items are matched by name, users and
// events by id.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/ledger"
)

// ShopCatalog returns the default rewards.
func ShopCatalog() []ledger.ShopItem {
	item := func(name, desc, category string, cost, stock int64) ledger.ShopItem {
		return ledger.ShopItem{
			Name:        name,
			Description: desc,
			Category:    category,
			PointsCost:  cost,
			Stock:       stock,
			IsActive:    true,
		}
	}
	return []ledger.ShopItem{
		// Merchandise
		item("CampusEngage T-Shirt", "Official branded t-shirt. Available in S / M / L / XL on collection.", "Merchandise", 200, 50),
		item("Branded Water Bottle", "Stainless-steel insulated bottle with the campus logo embossed.", "Merchandise", 150, 30),
		item("Campus Notebook", "A5 ruled notebook with CampusEngage branding, 200 pages.", "Merchandise", 75, 100),
		item("Lanyard + ID Holder", "Retractable lanyard with a transparent hard-cover ID card holder.", "Merchandise", 50, 75),
		item("Laptop Sticker Pack", "Set of 10 die-cut vinyl stickers featuring campus club logos.", "Merchandise", 40, 200),
		// Discounts
		item("Canteen Voucher ₹100", "₹100 credit on your next canteen visit. Valid for 30 days.", "Discounts", 100, 500),
		item("Canteen Voucher ₹50", "₹50 credit on your next canteen visit. Valid for 30 days.", "Discounts", 50, 1000),
		item("Bookstore 20% Off", "One-time 20% discount on any single purchase at the campus bookstore.", "Discounts", 80, 50),
		item("Print Lab 50 Free Pages", "Redeem for 50 free A4 black-and-white prints at the library print lab.", "Discounts", 60, 100),
		// Experiences
		item("Priority Event Registration", "Skip the waitlist and register for any campus event 24 hours before general opening.", "Experiences", 300, 20),
		item("Alumni Mentorship Session", "One-hour one-on-one mentorship session with a verified alumni mentor of your choice.", "Experiences", 400, 10),
		item("Lunch with a Faculty Member", "Enjoy lunch with a faculty member of your choice, a unique networking opportunity.", "Experiences", 500, 5),
		item("Lab After-Hours Access (1 night)", "One approved after-hours access pass for the computer lab (subject to warden approval).", "Experiences", 250, 15),
		// Digital
		item("Digital Certificate of Recognition", "An official digitally-signed certificate acknowledging your campus contributions.", "Digital", 30, 9999),
		item("Profile Badge: Active Contributor", "Unlock the 'Active Contributor' badge displayed on your campus profile.", "Digital", 20, 9999),
	}
}

// Result counts what a seeding run did.
type Result struct {
	Created int
	Updated int
}

// SeedShop upserts every item by name.
func SeedShop(ctx context.Context, cat ledger.Catalog, items []ledger.ShopItem, log logrus.FieldLogger) (Result, error) {
	var res Result
	for _, it := range items {
		created, err := cat.UpsertItem(ctx, it)
		if err != nil {
			return res, fmt.Errorf("seed item %q: %w", it.Name, err)
		}
		if created {
			res.Created++
			log.WithField("item", it.Name).Info("created")
		} else {
			res.Updated++
			log.WithField("item", it.Name).Info("updated")
		}
	}
	return res, nil
}

// Demo ids, stable so SeedDemo can be re-run.
const (
	DemoAdmin      ledger.UserID       = "u-admin"
	DemoEvent      ledger.EventID      = "evt-techfest"
	DemoSubmission ledger.SubmissionID = "sub-demo-cert"
)

// DemoUsers returns an admin, an organizer and five students.
func DemoUsers() []ledger.User {
	users := []ledger.User{
		{ID: DemoAdmin, RollNo: "ADMIN01", Name: "Campus Admin", Email: "admin@campus.example", Role: ledger.RoleAdmin},
		{ID: "u-organizer", RollNo: "ORG01", Name: "Event Organizer", Email: "organizer@campus.example", Role: ledger.RoleOrganizer},
	}
	names := []string{"Aarav Shah", "Diya Nair", "Kabir Rao", "Meera Iyer", "Rohan Das"}
	for i, name := range names {
		roll := fmt.Sprintf("CS%03d", i+1)
		users = append(users, ledger.User{
			ID:     ledger.UserID("u-" + roll),
			RollNo: roll,
			Name:   name,
			Email:  fmt.Sprintf("%s@campus.example", roll),
			Role:   ledger.RoleStudent,
		})
	}
	return users
}

// SeedDemo saves the demo users, one event and one pending certificate.
func SeedDemo(ctx context.Context, cat ledger.Catalog, now time.Time) error {
	for _, u := range DemoUsers() {
		if err := cat.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}

	if err := cat.SaveEvent(ctx, ledger.Event{
		ID:                   DemoEvent,
		Title:                "TechFest Hackathon",
		Type:                 ledger.EventExtracurricular,
		OrganizedBy:          "CS Department",
		Date:                 now.AddDate(0, 0, 7),
		Location:             "Main Auditorium",
		PointsPerParticipant: 25,
		WinnerPoints:         100,
		CreatedAt:            now,
	}); err != nil {
		return fmt.Errorf("seed event: %w", err)
	}

	if err := cat.SaveSubmission(ctx, ledger.Submission{
		ID:         DemoSubmission,
		UserID:     "u-CS002",
		EventID:    DemoEvent,
		Type:       ledger.SubmissionCertificate,
		FileURL:    "https://files.campus.example/certs/cs002-techfest.pdf",
		UploadedAt: now,
	}); err != nil {
		return fmt.Errorf("seed submission: %w", err)
	}
	return nil
}
