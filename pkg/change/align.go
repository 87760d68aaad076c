package change

// lcs returns index pairs of a longest common subsequence of a and b
func lcs(a, b []string) [][2]int {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	var out [][2]int
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			out = append(out, [2]int{i, j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return out
}

// gap is a run of unmatched positions between two LCS anchors
type gap struct {
	old []int
	new []int
}

// gaps splits the unmatched positions of an alignment into runs, including the
// runs before the first and after the last anchor
func gaps(n, m int, anchors [][2]int) []gap {
	var out []gap
	pi, pj := 0, 0
	bounds := append(append([][2]int(nil), anchors...), [2]int{n, m})
	for _, a := range bounds {
		var g gap
		for i := pi; i < a[0]; i++ {
			g.old = append(g.old, i)
		}
		for j := pj; j < a[1]; j++ {
			g.new = append(g.new, j)
		}
		if len(g.old) > 0 || len(g.new) > 0 {
			out = append(out, g)
		}
		pi, pj = a[0]+1, a[1]+1
	}
	return out
}
