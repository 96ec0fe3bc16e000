package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEqualSplit(t *testing.T) {
	perMember, remainder := ComputeEqualSplit(1000, 3)
	assert.Equal(t, int64(333), perMember)
	assert.Equal(t, int64(1), remainder)

	perMember, remainder = ComputeEqualSplit(1000, 4)
	assert.Equal(t, int64(250), perMember)
	assert.Equal(t, int64(0), remainder)

	// zero members: the whole total becomes remainder
	perMember, remainder = ComputeEqualSplit(1000, 0)
	assert.Equal(t, int64(0), perMember)
	assert.Equal(t, int64(1000), remainder)
}

func TestEqualSplitInvariant(t *testing.T) {
	totals := []int64{1, 7, 99, 1000, 123456789}
	counts := []int{1, 2, 3, 7, 50}
	for _, total := range totals {
		for _, count := range counts {
			perMember, remainder := ComputeEqualSplit(total, count)
			assert.Equal(t, total, perMember*int64(count)+remainder)
			assert.Less(t, remainder, int64(count))
		}
	}
}

func TestValidatePercentageSplit(t *testing.T) {
	assert.True(t, ValidatePercentageSplit([]int64{3000, 3000, 4000}))
	assert.False(t, ValidatePercentageSplit([]int64{3000, 3000, 3000}))
	assert.True(t, ValidatePercentageSplit([]int64{10000}))
	assert.False(t, ValidatePercentageSplit(nil))
}

func TestComputeSplitsEqual(t *testing.T) {
	members := []string{"0xaaa", "0xbbb", "0xccc"}
	splits, err := ComputeSplits(1000, SplitEqual, members, nil)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	// remainder goes to the first member
	assert.Equal(t, int64(334), splits[0].Amount)
	assert.Equal(t, int64(333), splits[1].Amount)
	assert.Equal(t, int64(333), splits[2].Amount)

	var sum int64
	for _, s := range splits {
		sum += s.Amount
	}
	assert.Equal(t, int64(1000), sum)
}

func TestComputeSplitsPercentage(t *testing.T) {
	members := []string{"0xaaa", "0xbbb", "0xccc"}
	splits, err := ComputeSplits(1000, SplitPercentage, members, []int64{3000, 3000, 4000})
	require.NoError(t, err)
	assert.Equal(t, int64(300), splits[0].Amount)
	assert.Equal(t, int64(300), splits[1].Amount)
	assert.Equal(t, int64(400), splits[2].Amount)

	// rounding loss lands on the first member
	splits, err = ComputeSplits(1001, SplitPercentage, members, []int64{3333, 3333, 3334})
	require.NoError(t, err)
	var sum int64
	for _, s := range splits {
		sum += s.Amount
	}
	assert.Equal(t, int64(1001), sum)

	_, err = ComputeSplits(1000, SplitPercentage, members, []int64{5000, 5000})
	assert.ErrorIs(t, err, ErrMismatchedSplitValues)

	_, err = ComputeSplits(1000, SplitPercentage, members, []int64{3000, 3000, 3000})
	assert.ErrorIs(t, err, ErrInvalidPercentages)
}

func TestComputeSplitsCustom(t *testing.T) {
	members := []string{"0xaaa", "0xbbb"}
	splits, err := ComputeSplits(1000, SplitCustom, members, []int64{700, 300})
	require.NoError(t, err)
	assert.Equal(t, int64(700), splits[0].Amount)
	assert.Equal(t, int64(300), splits[1].Amount)

	_, err = ComputeSplits(1000, SplitCustom, members, []int64{700, 200})
	assert.ErrorIs(t, err, ErrCustomSplitMismatch)

	_, err = ComputeSplits(1000, "RANDOM", members, nil)
	assert.ErrorIs(t, err, ErrUnknownSplitType)
}

func TestBillStructureEncodeDecode(t *testing.T) {
	s := &BillStructure{
		BillID:    "bill_123",
		Total:     5000,
		Token:     "USDC",
		SplitType: SplitCustom,
		Members:   []string{"0xaaa", "0xbbb"},
		Values:    []int64{2500, 2500},
	}
	encoded, err := s.Encode()
	require.NoError(t, err)

	decoded, err := DecodeBillStructure(encoded)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)

	// canonical: re-encoding yields identical bytes
	reencoded, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestRecomputeFullySettled(t *testing.T) {
	bill := &CrossChainBill{
		BillID:       "bill_x",
		Chains:       []string{"base", "polygon"},
		SettledFlags: map[string]bool{"base": true},
	}
	assert.False(t, bill.RecomputeFullySettled())

	bill.SettledFlags["polygon"] = true
	assert.True(t, bill.RecomputeFullySettled())

	// monotonic: clearing a flag after the aggregate flipped has no effect
	bill.SettledFlags["polygon"] = false
	assert.True(t, bill.RecomputeFullySettled())
}

func TestGroupMembership(t *testing.T) {
	g := &Group{
		GroupID: "grp_1",
		Creator: "0xcreator",
		Members: []GroupMember{
			{Address: "0xcreator", CanCreateBills: true},
			{Address: "0xmember", CanCreateBills: false},
		},
	}
	assert.True(t, g.IsMember("0xcreator"))
	assert.True(t, g.IsMember("0xmember"))
	assert.False(t, g.IsMember("0xstranger"))
	assert.True(t, g.CanCreateBills("0xcreator"))
	assert.False(t, g.CanCreateBills("0xmember"))
	assert.False(t, g.CanCreateBills("0xstranger"))
	assert.Equal(t, []string{"0xcreator", "0xmember"}, g.MemberAddresses())
}

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("bill")
	assert.Contains(t, id, "bill_")
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("bill"))
}
