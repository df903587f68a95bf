package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Profile is the per-owner usage record the quota guard reads. The message
// counter is incremented by the relay path after each successful exchange;
// subscription and redemption flags are written by the billing collaborator.
type Profile struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID         string             `bson:"user_id" json:"user_id"`
	MessageCount   int                `bson:"message_count" json:"message_count"`
	HasProAccess   bool               `bson:"has_pro_access" json:"has_pro_access"`
	CouponRedeemed bool               `bson:"coupon_redeemed" json:"coupon_redeemed"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// Unlimited reports whether the profile is exempt from the message cap.
func (p *Profile) Unlimited() bool {
	return p.HasProAccess || p.CouponRedeemed
}
