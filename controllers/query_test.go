package controllers

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-service/models"
	"shop-service/utils"
)

func TestParseListQuery(t *testing.T) {
	values, err := url.ParseQuery("price[gte]=10&sort=-price,name&page=2&limit=1&category=tools&password=x&user[in]=u1,u2")
	require.NoError(t, err)

	got, err := ParseListQuery(values)
	require.NoError(t, err)

	want := models.ListQuery{
		Filters: []models.Condition{
			{Field: "category", Op: models.OpEq, Value: "tools"},
			{Field: "price", Op: models.OpGte, Value: 10.0},
			{Field: "user", Op: models.OpIn, Value: []string{"u1", "u2"}},
		},
		Sort:  []models.SortField{{Field: "price", Desc: true}, {Field: "name"}},
		Page:  2,
		Limit: 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseListQuery() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseListQueryEmpty(t *testing.T) {
	got, err := ParseListQuery(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, models.ListQuery{}, got)
}

func TestParseListQueryErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"bad_page", "page=two"},
		{"bad_limit", "limit=1.5"},
		{"bad_number", "price[lt]=cheap"},
		{"bad_operator", "stock[ne]=3"},
		{"numeric_in", "price[in]=1,2"},
		{"page_overflows_int64", "page=9223372036854775807&limit=10"},
		{"page_above_max", "page=2147483648"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			_, err = ParseListQuery(values)
			require.Error(t, err)
			assert.Equal(t, utils.KindBadRequest, utils.KindOf(err))
		})
	}
}
