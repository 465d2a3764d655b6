package storage

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RemoteConfig", func() {
	Describe("ParseRemoteConfig", func() {
		It("returns nil for an empty blob", func() {
			cfg, err := ParseRemoteConfig("  ")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(BeNil())
		})

		It("decodes the JSON blob", func() {
			cfg, err := ParseRemoteConfig(`{"dsn":"postgres://db/pantry","tokenSecret":"s3cret"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(HaveValue(Equal(RemoteConfig{DSN: "postgres://db/pantry", TokenSecret: "s3cret"})))
		})

		It("rejects malformed JSON as a configuration error", func() {
			_, err := ParseRemoteConfig(`{"dsn":`)
			Expect(err).To(MatchError(ErrConfiguration))
		})
	})

	DescribeTable("Validate",
		func(cfg *RemoteConfig, valid bool) {
			err := cfg.Validate()
			if valid {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(MatchError(ErrConfiguration))
			}
		},
		Entry("nil config", nil, false),
		Entry("missing dsn", &RemoteConfig{TokenSecret: "s3cret"}, false),
		Entry("placeholder key in dsn", &RemoteConfig{DSN: "postgres://PLACEHOLDER_KEY@db/pantry"}, false),
		Entry("changeme password", &RemoteConfig{DSN: "postgres://app:changeme@db/pantry"}, false),
		Entry("placeholder token secret", &RemoteConfig{DSN: "postgres://db/pantry", TokenSecret: "PLACEHOLDER"}, false),
		Entry("real dsn", &RemoteConfig{DSN: "postgres://app:pw@db/pantry"}, true),
	)

	It("fills in defaults", func() {
		cfg := Config{}.withDefaults()
		Expect(cfg.AppID).To(Equal(DefaultAppID))
		Expect(cfg.AuthLatency).To(BeNumerically(">", 0))
		Expect(cfg.Retry).To(Equal(DefaultRetryPolicy()))
		Expect(cfg.IDGenerator).NotTo(BeNil())
		Expect(cfg.TimeSource).NotTo(BeNil())
	})
})
