package structures

import "fmt"

// applyChannelRenames disambiguates duplicate channel names so that every
// channel in the file is addressable by name. Within one channel group a
// repeated name gets a positional suffix; across groups the data-group
// index is appended. The first occurrence file-wide keeps its plain name.
func applyChannelRenames(g *Graph) {
	fileSeen := make(map[string]int)

	for di := range g.DataGroups {
		dg := &g.DataGroups[di]
		for gi := range dg.Groups {
			cg := &dg.Groups[gi]
			groupSeen := make(map[string]int)
			for ci := range cg.Channels {
				cn := &cg.Channels[ci]

				if n := groupSeen[cn.Name]; n > 0 {
					cn.Name = fmt.Sprintf("%s_%d", cn.Name, n)
				}
				groupSeen[cn.Name]++

				if fileSeen[cn.Name] > 0 {
					cn.Name = fmt.Sprintf("%s_dg%d", cn.Name, dg.Index)
					// Still colliding within the same data group index:
					// fall back to a running counter.
					if n := fileSeen[cn.Name]; n > 0 {
						cn.Name = fmt.Sprintf("%s_%d", cn.Name, n)
					}
				}
				fileSeen[cn.Name]++
			}
		}
	}
}
