// Package quality runs every card candidate through the quality gate:
//
//	Generated -> SourceChecked -> RelevanceChecked -> Scored -> Validated
//	                                                        \-> Rewritten -> SourceChecked ...
//	                                                        \-> Rejected
//
// A candidate whose evidence is not a literal part of its segment, or whose
// content is unrelated to the segment or copied from the quality checklist,
// is rejected before scoring. Candidates that score just below the accept
// threshold get one rewrite by the validation model. Rejections are silent
// and only counted in Stats.
package quality
