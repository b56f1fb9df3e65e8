package controllers

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"shop-service/database"
	"shop-service/models"
	"shop-service/utils"
)

var filterKey = regexp.MustCompile(`^(\w+)\[(\w+)\]$`)

var numericFields = map[string]bool{"price": true, "stock": true}

var filterOps = map[string]bool{
	models.OpEq:  true,
	models.OpGt:  true,
	models.OpGte: true,
	models.OpLt:  true,
	models.OpLte: true,
	models.OpIn:  true,
}

// reserved parameters that never become filters
var reserved = map[string]bool{"page": true, "limit": true, "sort": true, "select": true}

// ParseListQuery reads paging, sorting and filters of a product listing.
// Filters look like field=value or field[op]=value; unknown fields are
// ignored.
func ParseListQuery(values url.Values) (models.ListQuery, error) {
	var q models.ListQuery

	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &q.Page}, {"limit", &q.Limit}} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n > models.MaxPage {
			return q, utils.BadRequest("Invalid %s %q", p.name, raw)
		}
		*p.dst = n
	}

	for _, key := range strings.Split(values.Get("sort"), ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		desc := strings.HasPrefix(key, "-")
		q.Sort = append(q.Sort, models.SortField{Field: strings.TrimPrefix(key, "-"), Desc: desc})
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if reserved[key] {
			continue
		}
		field, op := key, models.OpEq
		if m := filterKey.FindStringSubmatch(key); m != nil {
			field, op = m[1], m[2]
		}
		if !database.IsProductFilterField(field) {
			continue
		}
		if !filterOps[op] {
			return q, utils.BadRequest("Unsupported filter operator %q", op)
		}

		cond, err := condition(field, op, values.Get(key))
		if err != nil {
			return q, err
		}
		q.Filters = append(q.Filters, cond)
	}
	return q, nil
}

func condition(field, op, raw string) (models.Condition, error) {
	if op == models.OpIn {
		if numericFields[field] {
			return models.Condition{}, utils.BadRequest("Operator in is not supported for %s", field)
		}
		var list []string
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				list = append(list, v)
			}
		}
		return models.Condition{Field: field, Op: op, Value: list}, nil
	}

	if numericFields[field] {
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Condition{}, utils.BadRequest("Invalid value %q for %s", raw, field)
		}
		return models.Condition{Field: field, Op: op, Value: n}, nil
	}
	return models.Condition{Field: field, Op: op, Value: raw}, nil
}
