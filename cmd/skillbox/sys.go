package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/sysinfo"
)

var sysCmd = &cobra.Command{
	Use:   "sys",
	Short: "Disk, memory, process and host information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var sysDfCmd = &cobra.Command{
	Use:   "df",
	Short: "Disk usage per mounted filesystem",
	Run: func(cmd *cobra.Command, _ []string) {
		disks, err := sysinfo.Disks(cmd.Context())
		if err != nil {
			fail(err, "failed to read disks")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(disks)
			return
		}
		rows := make([][]string, 0, len(disks))
		for _, d := range disks {
			rows = append(rows, []string{d.Device, d.Fstype, sysinfo.Bytes(d.Total), sysinfo.Bytes(d.Used), sysinfo.Bytes(d.Free), percent(d.UsedPercent), d.Mountpoint})
		}
		presenter.Table([]string{"FILESYSTEM", "TYPE", "SIZE", "USED", "AVAIL", "USE%", "MOUNTED ON"}, rows)
	},
}

var sysFreeCmd = &cobra.Command{
	Use:   "free",
	Short: "Memory and swap usage",
	Run: func(cmd *cobra.Command, _ []string) {
		mem, err := sysinfo.GetMemory(cmd.Context())
		if err != nil {
			fail(err, "failed to read memory")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(mem)
			return
		}
		presenter.Table([]string{"", "TOTAL", "USED", "FREE", "AVAILABLE", "CACHED"}, [][]string{
			{"Mem", sysinfo.Bytes(mem.Total), sysinfo.Bytes(mem.Used), sysinfo.Bytes(mem.Free), sysinfo.Bytes(mem.Available), sysinfo.Bytes(mem.Cached)},
			{"Swap", sysinfo.Bytes(mem.SwapTotal), sysinfo.Bytes(mem.SwapUsed), sysinfo.Bytes(mem.SwapFree), "", ""},
		})
	},
}

var sysPsCmd = &cobra.Command{
	Use:   "ps",
	Short: "Top processes",
	Run: func(cmd *cobra.Command, _ []string) {
		sortBy, _ := cmd.Flags().GetString("sort")
		n, _ := cmd.Flags().GetInt("limit")
		procs, err := sysinfo.Processes(cmd.Context(), sortBy, n)
		if err != nil {
			fail(err, "failed to list processes")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(procs)
			return
		}
		rows := make([][]string, 0, len(procs))
		for _, p := range procs {
			rows = append(rows, []string{
				strconv.Itoa(int(p.PID)), p.User, percent(p.CPUPercent), percent(float64(p.MemPercent)), sysinfo.Bytes(p.RSS), firstLine(p.Command),
			})
		}
		presenter.Table([]string{"PID", "USER", "CPU%", "MEM%", "RSS", "COMMAND"}, rows)
	},
}

var sysHostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host and operating system details",
	Run: func(cmd *cobra.Command, _ []string) {
		h, err := sysinfo.GetHost(cmd.Context())
		if err != nil {
			fail(err, "failed to read host info")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(h)
			return
		}
		rows := [][]string{
			{"hostname", h.Hostname},
			{"os", fmt.Sprintf("%s %s (%s)", h.Platform, h.PlatformVersion, h.OS)},
			{"kernel", h.KernelVersion},
			{"arch", h.Arch},
			{"cpus", strconv.Itoa(h.CPUs)},
			{"processes", strconv.FormatUint(h.Procs, 10)},
			{"uptime", h.Uptime.Round(time.Minute).String()},
			{"booted", h.BootTime.Local().Format(time.DateTime)},
		}
		if h.Virtualization != "" {
			rows = append(rows, []string{"virtualization", h.Virtualization})
		}
		presenter.Table([]string{"FIELD", "VALUE"}, rows)
	},
}

func init() {
	sysCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	sysPsCmd.Flags().String("sort", sysinfo.SortCPU, "Sort by cpu, mem, pid or name")
	sysPsCmd.Flags().IntP("limit", "n", 15, "Number of processes")

	sysCmd.AddCommand(sysDfCmd)
	sysCmd.AddCommand(sysFreeCmd)
	sysCmd.AddCommand(sysPsCmd)
	sysCmd.AddCommand(sysHostCmd)
	rootCmd.AddCommand(sysCmd)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}
