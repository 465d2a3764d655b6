package dates

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Resolve", func() {
	var (
		text   string
		now    time.Time
		result string
		err    error
	)

	BeforeEach(func() {
		now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	})

	JustBeforeEach(func() {
		result, err = Resolve(text, now)
	})

	When("a month and day are spoken without a year", func() {
		When("the date is still ahead this year", func() {
			BeforeEach(func() {
				text = "December 25"
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should keep the current year", func() {
				Expect(result).To(Equal("2024-12-25"))
			})
		})

		When("the date has already passed this year", func() {
			BeforeEach(func() {
				text = "march 1"
			})

			It("should roll forward to next year", func() {
				Expect(result).To(Equal("2025-03-01"))
			})
		})

		When("the day carries an ordinal suffix", func() {
			BeforeEach(func() {
				text = "best before the 3rd of sept"
			})

			It("should read the day number", func() {
				Expect(result).To(Equal("2024-09-03"))
			})
		})
	})

	When("an explicit year is spoken", func() {
		BeforeEach(func() {
			text = "expires june 5th 2026"
		})

		It("should use the year and not mistake its digits for a day", func() {
			Expect(result).To(Equal("2026-06-05"))
		})

		When("the date is in the past", func() {
			BeforeEach(func() {
				text = "jan 10 2023"
			})

			It("should not roll the year forward", func() {
				Expect(result).To(Equal("2023-01-10"))
			})
		})

		When("only a month and year are spoken", func() {
			BeforeEach(func() {
				text = "dec 2025"
			})

			It("should keep today's day of month", func() {
				Expect(result).To(Equal("2025-12-01"))
			})
		})
	})

	When("the text says today", func() {
		BeforeEach(func() {
			text = "Today"
		})

		It("should return today even though midnight is before now", func() {
			Expect(result).To(Equal("2024-06-01"))
		})
	})

	When("the text says tomorrow", func() {
		BeforeEach(func() {
			now = time.Date(2024, 12, 31, 18, 0, 0, 0, time.UTC)
			text = "tomorrow"
		})

		It("should return the next calendar day across a year boundary", func() {
			Expect(result).To(Equal("2025-01-01"))
		})
	})

	Describe("relative terms", func() {
		When("the text says next week", func() {
			BeforeEach(func() {
				now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
				text = "next week"
			})

			It("should add seven days", func() {
				Expect(result).To(Equal("2024-01-08"))
			})
		})

		When("the text says next month", func() {
			BeforeEach(func() {
				text = "next month"
			})

			It("should keep the day of month", func() {
				Expect(result).To(Equal("2024-07-01"))
			})

			When("the next month is shorter than today's day", func() {
				BeforeEach(func() {
					now = time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
				})

				It("should let the day overflow into the following month", func() {
					Expect(result).To(Equal("2024-03-02"))
				})
			})
		})

		When("the text says next year", func() {
			BeforeEach(func() {
				text = "next year"
			})

			It("should bump the year only", func() {
				Expect(result).To(Equal("2025-06-01"))
			})
		})

		When("a month is also spoken", func() {
			BeforeEach(func() {
				text = "august next week"
			})

			It("should ignore the relative term", func() {
				Expect(result).To(Equal("2024-08-01"))
			})
		})
	})

	When("the day overflows the month", func() {
		BeforeEach(func() {
			now = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
			text = "february 31"
		})

		It("should normalize into the next month", func() {
			Expect(result).To(Equal("2024-03-02"))
		})
	})

	When("a month abbreviation only appears inside another word", func() {
		BeforeEach(func() {
			text = "bought at the market"
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ErrNoDateSignal))
		})
	})

	When("the text carries no date at all", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns an InvalidDateError", func() {
			var invalid *InvalidDateError
			Expect(err).To(BeAssignableToTypeOf(invalid))
		})

		It("should return an empty result", func() {
			Expect(result).To(BeEmpty())
		})
	})

	When("the text holds a numeric year-month-day", func() {
		BeforeEach(func() {
			text = "expires 2024-12-25"
		})

		It("should read the month and day from the digits", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("2024-12-25"))
		})

		When("the date is in the past", func() {
			BeforeEach(func() {
				text = "best before 2023/1/5"
			})

			It("should keep the written year", func() {
				Expect(result).To(Equal("2023-01-05"))
			})
		})

		When("the month is out of range", func() {
			BeforeEach(func() {
				text = "lot 2024-13-02"
			})

			It("should fall back to the word rules", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result).To(HavePrefix("2024-"))
			})
		})
	})

	DescribeTable("always formats as a zero-padded ISO date",
		func(spoken string) {
			out, err := Resolve(spoken, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(MatchRegexp(`^\d{4}-\d{2}-\d{2}$`))
			_, parseErr := time.Parse(ISOLayout, out)
			Expect(parseErr).NotTo(HaveOccurred())
		},
		Entry("single digit day and month", "jan 2"),
		Entry("full month name", "september 9th"),
		Entry("explicit year", "may 7 2031"),
		Entry("bare day", "the 4th"),
		Entry("relative", "next week"),
	)
})
