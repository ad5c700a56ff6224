package routing

import "github.com/ignite/marketplace-ops/internal/domain"

// DefaultRoutes returns the system event catalog shipped with a fresh
// install. Admins tune it from the dashboard afterwards.
func DefaultRoutes() []domain.EventRoute {
	ch := func(c ...domain.Channel) []domain.Channel { return c }

	return []domain.EventRoute{
		// auth
		{EventType: "otp_send", Description: "One-time passcode for login or checkout", Category: domain.CategoryAuth, Enabled: true,
			Priority: domain.PriorityHigh, PrimaryChannel: domain.ChannelSMS, FallbackChannels: ch(domain.ChannelPush, domain.ChannelEmail),
			RateLimitPerMinute: 1000, MaxRetries: 2, ErrorPolicy: domain.PolicyFallback},
		{EventType: "password_reset", Description: "Password reset link", Category: domain.CategoryAuth, Enabled: true,
			Priority: domain.PriorityHigh, PrimaryChannel: domain.ChannelEmail, FallbackChannels: ch(domain.ChannelSMS),
			RateLimitPerMinute: 300, MaxRetries: 3, ErrorPolicy: domain.PolicyRetry},
		{EventType: "welcome", Description: "Welcome message after registration", Category: domain.CategoryAuth, Enabled: true,
			Priority: domain.PriorityLow, PrimaryChannel: domain.ChannelEmail, FallbackChannels: ch(domain.ChannelInApp),
			RateLimitPerMinute: 500, MaxRetries: 1, ErrorPolicy: domain.PolicyFallback},

		// listings
		{EventType: "listing_approved", Description: "Listing passed moderation", Category: domain.CategoryListings, Enabled: true,
			Priority: domain.PriorityMedium, PrimaryChannel: domain.ChannelPush, FallbackChannels: ch(domain.ChannelInApp, domain.ChannelEmail),
			RateLimitPerMinute: 600, MaxRetries: 1, ErrorPolicy: domain.PolicyFallback},
		{EventType: "listing_rejected", Description: "Listing failed moderation", Category: domain.CategoryListings, Enabled: true,
			Priority: domain.PriorityMedium, PrimaryChannel: domain.ChannelEmail, FallbackChannels: ch(domain.ChannelInApp),
			RateLimitPerMinute: 600, MaxRetries: 2, ErrorPolicy: domain.PolicyRetry},
		{EventType: "listing_expiring", Description: "Listing expires in 3 days", Category: domain.CategoryListings, Enabled: true,
			Priority: domain.PriorityLow, PrimaryChannel: domain.ChannelInApp, FallbackChannels: nil,
			RateLimitPerMinute: 200, MaxRetries: 0, ErrorPolicy: domain.PolicyDrop},
		{EventType: "new_offer", Description: "Buyer made an offer on a listing", Category: domain.CategoryListings, Enabled: true,
			Priority: domain.PriorityMedium, PrimaryChannel: domain.ChannelPush, FallbackChannels: ch(domain.ChannelInApp),
			RateLimitPerMinute: 1200, MaxRetries: 1, ErrorPolicy: domain.PolicyFallback},

		// wallet
		{EventType: "wallet_deposit", Description: "Deposit credited to wallet", Category: domain.CategoryWallet, Enabled: true,
			Priority: domain.PriorityHigh, PrimaryChannel: domain.ChannelPush, FallbackChannels: ch(domain.ChannelSMS, domain.ChannelEmail),
			RateLimitPerMinute: 800, MaxRetries: 2, ErrorPolicy: domain.PolicyFallback},
		{EventType: "withdrawal_processed", Description: "Withdrawal sent to bank or mobile money", Category: domain.CategoryWallet, Enabled: true,
			Priority: domain.PriorityHigh, PrimaryChannel: domain.ChannelSMS, FallbackChannels: ch(domain.ChannelEmail),
			RateLimitPerMinute: 400, MaxRetries: 3, ErrorPolicy: domain.PolicyRetry},
		{EventType: "low_balance", Description: "Wallet balance below threshold", Category: domain.CategoryWallet, Enabled: false,
			Priority: domain.PriorityLow, PrimaryChannel: domain.ChannelInApp, FallbackChannels: nil,
			RateLimitPerMinute: 100, MaxRetries: 0, ErrorPolicy: domain.PolicyDrop},

		// kyc
		{EventType: "kyc_approved", Description: "Identity verification approved", Category: domain.CategoryKYC, Enabled: true,
			Priority: domain.PriorityMedium, PrimaryChannel: domain.ChannelEmail, FallbackChannels: ch(domain.ChannelPush),
			RateLimitPerMinute: 300, MaxRetries: 2, ErrorPolicy: domain.PolicyFallback},
		{EventType: "kyc_rejected", Description: "Identity verification rejected", Category: domain.CategoryKYC, Enabled: true,
			Priority: domain.PriorityMedium, PrimaryChannel: domain.ChannelEmail, FallbackChannels: ch(domain.ChannelSMS),
			RateLimitPerMinute: 300, MaxRetries: 2, ErrorPolicy: domain.PolicyRetry},
		{EventType: "kyc_document_request", Description: "Additional document needed", Category: domain.CategoryKYC, Enabled: true,
			Priority: domain.PriorityLow, PrimaryChannel: domain.ChannelInApp, FallbackChannels: ch(domain.ChannelEmail),
			RateLimitPerMinute: 200, MaxRetries: 1, ErrorPolicy: domain.PolicyFallback},

		// disputes
		{EventType: "dispute_opened", Description: "A dispute was opened on an order", Category: domain.CategoryDisputes, Enabled: true,
			Priority: domain.PriorityHigh, PrimaryChannel: domain.ChannelEmail, FallbackChannels: ch(domain.ChannelPush, domain.ChannelSMS),
			RateLimitPerMinute: 100, MaxRetries: 2, ErrorPolicy: domain.PolicyFallback},
		{EventType: "dispute_resolved", Description: "Dispute decision published", Category: domain.CategoryDisputes, Enabled: true,
			Priority: domain.PriorityMedium, PrimaryChannel: domain.ChannelEmail, FallbackChannels: ch(domain.ChannelInApp),
			RateLimitPerMinute: 100, MaxRetries: 2, ErrorPolicy: domain.PolicyRetry},

		// security
		{EventType: "new_device_login", Description: "Login from an unrecognized device", Category: domain.CategorySecurity, Enabled: true,
			Priority: domain.PriorityHigh, PrimaryChannel: domain.ChannelPush, FallbackChannels: ch(domain.ChannelSMS, domain.ChannelEmail),
			RateLimitPerMinute: 500, MaxRetries: 1, ErrorPolicy: domain.PolicyFallback},
		{EventType: "account_locked", Description: "Account locked after failed attempts", Category: domain.CategorySecurity, Enabled: true,
			Priority: domain.PriorityHigh, PrimaryChannel: domain.ChannelSMS, FallbackChannels: ch(domain.ChannelEmail),
			RateLimitPerMinute: 200, MaxRetries: 3, ErrorPolicy: domain.PolicyRetry},
	}
}
