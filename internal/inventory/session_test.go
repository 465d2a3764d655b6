package inventory

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/pantry-tracker/internal/storage"
)

var _ = Describe("Session", func() {
	var (
		store   *mockStore
		session *Session
	)

	BeforeEach(func() {
		store = newMockStore()
		store.profiles["local-guest-user"] = storage.UserProfile{Username: "Sam"}
		session = NewSession(context.Background(), store)
	})

	AfterEach(func() {
		session.Close()
	})

	It("is not ready before sign-in", func() {
		_, err := session.Owner()
		Expect(err).To(MatchError(ErrNotReady))
		Expect(session.Identity()).To(BeNil())
		Expect(session.Ready()).NotTo(BeClosed())
	})

	It("tracks the signed-in user and loads their profile", func() {
		guest := storage.LocalGuest
		store.signIn(&guest)

		Expect(session.Ready()).To(BeClosed())
		owner, err := session.Owner()
		Expect(err).NotTo(HaveOccurred())
		Expect(owner).To(Equal(Owner{UserID: "local-guest-user", Username: "Sam"}))
		Expect(session.Profile().Username).To(Equal("Sam"))
	})

	It("uses the guest profile when none is stored", func() {
		store.signIn(&storage.Identity{UID: "new-user"})

		owner, err := session.Owner()
		Expect(err).NotTo(HaveOccurred())
		Expect(owner.Username).To(Equal("Guest"))
	})

	It("updates the profile for the current user only", func() {
		store.signIn(&storage.Identity{UID: "user-1"})

		session.SetProfile("someone-else", storage.UserProfile{Username: "Nope"})
		Expect(session.Profile()).To(Equal(storage.GuestProfile))

		session.SetProfile("user-1", storage.UserProfile{Username: "Alex"})
		Expect(session.Profile().Username).To(Equal("Alex"))
	})

	It("stops following auth events when closed", func() {
		session.Close()
		store.signIn(&storage.Identity{UID: "user-1"})
		Expect(session.Identity()).To(BeNil())
	})
})
