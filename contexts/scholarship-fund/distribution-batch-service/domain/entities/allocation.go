package entities

import (
	"math/big"
	"sort"
	"strings"

	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"

	"github.com/shopspring/decimal"
)

const basisPointsOfWhole = 10000

// Allocate splits fund across students in proportion to their credits.
//
// Amounts are settled in whole cents and percentages in basis points using
// the largest-remainder method: every share is floored first, then the
// leftover units go one each to the largest fractional remainders (ties go to
// the larger credit balance, then the smaller student id). The rounded
// amounts always sum to the rounded fund and the percentages to 100.00.
func Allocate(batchID int64, fund decimal.Decimal, students []StudentCredit) ([]Allocation, error) {
	fund = RoundFund(fund)
	if !fund.IsPositive() {
		return nil, domainerrors.ErrInvalidInput
	}
	return allocate(batchID, fund, students)
}

// PreviewAllocations computes the shares current balances would receive. A
// zero fund is allowed and yields percentages with zero amounts.
func PreviewAllocations(fund decimal.Decimal, students []StudentCredit) ([]Allocation, error) {
	fund = RoundFund(fund)
	if fund.IsNegative() {
		return nil, domainerrors.ErrInvalidInput
	}
	return allocate(0, fund, students)
}

func allocate(batchID int64, fund decimal.Decimal, students []StudentCredit) ([]Allocation, error) {
	eligible := make([]StudentCredit, 0, len(students))
	var totalCredits int64
	for _, student := range students {
		if student.Credits < 0 || strings.TrimSpace(student.StudentID) == "" {
			return nil, domainerrors.ErrInvalidInput
		}
		if student.Credits == 0 {
			continue
		}
		eligible = append(eligible, student)
		totalCredits += student.Credits
	}
	if totalCredits == 0 {
		return nil, domainerrors.ErrNoEligibleRecipients
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Credits != eligible[j].Credits {
			return eligible[i].Credits > eligible[j].Credits
		}
		return eligible[i].StudentID < eligible[j].StudentID
	})

	fundCents := fund.Shift(2).BigInt()
	cents := largestRemainder(eligible, totalCredits, fundCents)
	basisPoints := largestRemainder(eligible, totalCredits, big.NewInt(basisPointsOfWhole))

	allocations := make([]Allocation, 0, len(eligible))
	for i, student := range eligible {
		allocations = append(allocations, Allocation{
			BatchID:          batchID,
			StudentID:        student.StudentID,
			DisplayName:      student.DisplayName,
			GuardianEmail:    student.GuardianEmail,
			CreditsConverted: student.Credits,
			Percentage:       decimal.NewFromBigInt(basisPoints[i], -2),
			USDAmount:        decimal.NewFromBigInt(cents[i], -2),
		})
	}
	return allocations, nil
}

// RoundFund normalizes a currency amount to whole cents, half away from zero.
func RoundFund(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// SumAllocations returns the total credits and USD carried by allocations.
func SumAllocations(allocations []Allocation) (int64, decimal.Decimal) {
	var credits int64
	total := decimal.Zero
	for _, allocation := range allocations {
		credits += allocation.CreditsConverted
		total = total.Add(allocation.USDAmount)
	}
	return credits, total
}

// largestRemainder expects students pre-sorted by credits desc, id asc so the
// stable sort below only has to order by remainder.
func largestRemainder(students []StudentCredit, totalCredits int64, units *big.Int) []*big.Int {
	denominator := big.NewInt(totalCredits)
	shares := make([]*big.Int, len(students))
	remainders := make([]*big.Int, len(students))
	assigned := new(big.Int)
	for i, student := range students {
		numerator := new(big.Int).Mul(big.NewInt(student.Credits), units)
		quotient, remainder := new(big.Int).QuoRem(numerator, denominator, new(big.Int))
		shares[i] = quotient
		remainders[i] = remainder
		assigned.Add(assigned, quotient)
	}

	leftover := new(big.Int).Sub(units, assigned).Int64()
	if leftover <= 0 {
		return shares
	}
	order := make([]int, len(students))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].Cmp(remainders[order[b]]) > 0
	})
	for i := int64(0); i < leftover; i++ {
		index := order[i]
		shares[index].Add(shares[index], big.NewInt(1))
	}
	return shares
}
