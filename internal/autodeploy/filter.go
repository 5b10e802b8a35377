package autodeploy

// IsEligible reports whether any tag in filter is present on the instance.
// Matching any single configured tag qualifies the instance.
func IsEligible(instanceTags, filter []Tag) bool {
	if len(instanceTags) == 0 || len(filter) == 0 {
		return false
	}

	present := make(map[Tag]struct{}, len(instanceTags))
	for _, t := range instanceTags {
		present[t] = struct{}{}
	}

	for _, f := range filter {
		if _, ok := present[f]; ok {
			return true
		}
	}
	return false
}

// TagsToMap flattens tags for logging
func TagsToMap(tags []Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Key] = t.Value
	}
	return m
}
