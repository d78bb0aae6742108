package video

import (
	"fmt"
	"strconv"
	"strings"
)

// sqlArgs accumulates positional parameters and hands out their $n placeholders.
type sqlArgs []any

func (a *sqlArgs) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

const itemColumns = `v.id, v.user_id, v.video_id, v.title, v.description, v.thumbnail_url,
       v.video_url, v.visibility, v.duration, v.views, v.created_at, v.updated_at,
       u.id, u.name, u.image`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes every character of s match literally inside a LIKE pattern.
func escapeLike(s string) string { return likeEscaper.Replace(s) }

// visibilityPredicate is "public OR owned by the viewer". Without a viewer it is
// public-only, so a missing id can never match rows whose owner is NULL.
func visibilityPredicate(viewerID string, a *sqlArgs) string {
	if viewerID == "" {
		return "v.visibility = 'public'"
	}
	return fmt.Sprintf("(v.visibility = 'public' OR v.user_id = %s)", a.add(viewerID))
}

// titleMatch is a case-insensitive substring match on the title.
func titleMatch(search string, a *sqlArgs) string {
	return fmt.Sprintf(`v.title ILIKE %s ESCAPE '\'`, a.add("%"+escapeLike(search)+"%"))
}

// listingQuery is a composed filter and order shared by the count and the row queries.
type listingQuery struct {
	where string
	order string
	args  sqlArgs
}

// composeListing builds the global listing filter for a viewer ("" when anonymous).
func composeListing(viewerID, search string, sort SortKey) listingQuery {
	var a sqlArgs
	where := visibilityPredicate(viewerID, &a)
	if s := strings.TrimSpace(search); s != "" {
		where += " AND " + titleMatch(s, &a)
	}
	return listingQuery{where: where, order: sort.orderBy(), args: a}
}

// composeOwnerListing builds the profile filter: the owner sees every one of their
// videos, everybody else only the public ones.
func composeOwnerListing(ownerID, viewerID, search string, sort SortKey) listingQuery {
	var a sqlArgs
	conds := []string{"v.user_id = " + a.add(ownerID)}
	if viewerID == "" || viewerID != ownerID {
		conds = append(conds, "v.visibility = 'public'")
	}
	if s := strings.TrimSpace(search); s != "" {
		conds = append(conds, titleMatch(s, &a))
	}
	return listingQuery{where: strings.Join(conds, " AND "), order: sort.orderBy(), args: a}
}

func (q listingQuery) countSQL() (string, []any) {
	return "SELECT COUNT(*) FROM videos v WHERE " + q.where, q.args
}

func (q listingQuery) selectSQL() (string, []any) {
	return fmt.Sprintf(`SELECT %s
FROM videos v LEFT JOIN users u ON u.id = v.user_id
WHERE %s
ORDER BY %s`, itemColumns, q.where, q.order), q.args
}

func (q listingQuery) pageSQL(limit, offset int) (string, []any) {
	base, _ := q.selectSQL()
	a := append(sqlArgs(nil), q.args...)
	return fmt.Sprintf("%s\nLIMIT %s OFFSET %s", base, a.add(limit), a.add(offset)), a
}
