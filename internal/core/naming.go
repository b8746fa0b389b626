package core

import "strings"

// Collection membership edges carry a fixed prefix so they can be told apart
// from entity-to-entity connections in the graph layer.
const collectionEdgePrefix = "col|"

// CollectionEdgeType returns the graph edge type for membership in the named
// collection.
func CollectionEdgeType(collectionName string) string {
	return collectionEdgePrefix + strings.ToLower(collectionName)
}

// CollectionNameFromEdgeType strips the membership prefix from an edge type.
// Non-collection edge types are returned unchanged.
func CollectionNameFromEdgeType(edgeType string) string {
	return strings.TrimPrefix(edgeType, collectionEdgePrefix)
}

// IsCollectionEdgeType reports whether the edge type denotes collection
// membership.
func IsCollectionEdgeType(edgeType string) bool {
	return strings.HasPrefix(edgeType, collectionEdgePrefix)
}

// Pluralize derives the collection name for an entity type. Only the
// inflections that occur in practice are handled; everything else takes a
// plain "s".
func Pluralize(word string) string {
	if word == "" {
		return word
	}
	lower := strings.ToLower(word)
	switch {
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return lower + "es"
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !isVowel(lower[len(lower)-2]):
		return lower[:len(lower)-1] + "ies"
	default:
		return lower + "s"
	}
}

// Singularize is the inverse of Pluralize for the same limited inflections.
func Singularize(word string) string {
	lower := strings.ToLower(word)
	switch {
	case strings.HasSuffix(lower, "ies"):
		return lower[:len(lower)-3] + "y"
	case strings.HasSuffix(lower, "ches"), strings.HasSuffix(lower, "shes"),
		strings.HasSuffix(lower, "xes"), strings.HasSuffix(lower, "ses"):
		return lower[:len(lower)-2]
	case strings.HasSuffix(lower, "s"):
		return lower[:len(lower)-1]
	default:
		return lower
	}
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
